package domain

import "time"

// RoomSummary es la entrada del directorio (inbox) de un usuario.
// Se recalcula en cada request; nunca se persiste ni se cachea.
type RoomSummary struct {
	RoomID                 string    `json:"room_id"`
	CounterpartIdentity    string    `json:"counterpart_email"`
	CounterpartDisplayName string    `json:"counterpart_name"`
	LastMessage            string    `json:"last_message"`
	LastSender             string    `json:"last_sender"`
	LastMessageTime        time.Time `json:"last_message_time"`
	// Unread es heuristico: true si el ultimo mensaje no lo envio el usuario.
	// No existe estado de lectura.
	Unread bool `json:"unread"`
}
