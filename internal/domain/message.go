package domain

import "time"

// Message es un mensaje ya persistido; inmutable una vez escrito.
type Message struct {
	ID        int64     `json:"id,omitempty"`
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
