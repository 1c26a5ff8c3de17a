package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"talentchat/internal/domain"
	"talentchat/internal/room"
)

// MessageRepository es el log append-only de mensajes, indexado por room id.
type MessageRepository interface {
	Append(ctx context.Context, roomID, sender, body string) (domain.Message, error)
	History(ctx context.Context, roomID string) ([]domain.Message, error)
	Latest(ctx context.Context, roomID string) (domain.Message, error)
	RoomsFor(ctx context.Context, identity string) ([]string, error)
	ListRoomIDs(ctx context.Context) ([]string, error)
	CountByRoom(ctx context.Context, roomID string) (int64, error)
	DeleteRoom(ctx context.Context, roomID string) (int64, error)
	RenameRoom(ctx context.Context, oldID, newID string) (int64, error)
}

type PgMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPgMessageRepository(pool *pgxpool.Pool) *PgMessageRepository {
	return &PgMessageRepository{pool: pool}
}

func validateAppend(roomID, sender, body string) error {
	switch {
	case strings.TrimSpace(roomID) == "":
		return fmt.Errorf("%w: room_id is required", domain.ErrValidation)
	case strings.TrimSpace(sender) == "":
		return fmt.Errorf("%w: sender is required", domain.ErrValidation)
	case strings.TrimSpace(body) == "":
		return fmt.Errorf("%w: body is required", domain.ErrValidation)
	}
	return nil
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

// Append serializa escritores concurrentes del mismo room con un advisory lock
// de transaccion; created_at nunca retrocede dentro del room.
func (r *PgMessageRepository) Append(ctx context.Context, roomID, sender, body string) (domain.Message, error) {
	if err := validateAppend(roomID, sender, body); err != nil {
		return domain.Message{}, err
	}

	const lockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`
	const insertQuery = `
		INSERT INTO messages (room_id, sender, body, created_at)
		SELECT $1, $2, $3, GREATEST(clock_timestamp(), COALESCE(MAX(created_at), '-infinity'::timestamptz))
		FROM messages
		WHERE room_id = $1
		RETURNING id, created_at
	`

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Message{}, storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockQuery, roomID); err != nil {
		return domain.Message{}, storageErr("lock room", err)
	}

	msg := domain.Message{RoomID: roomID, Sender: sender, Body: body}
	if err := tx.QueryRow(ctx, insertQuery, roomID, sender, body).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return domain.Message{}, storageErr("insert message", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, storageErr("commit", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

func (r *PgMessageRepository) History(ctx context.Context, roomID string) ([]domain.Message, error) {
	const query = `
		SELECT id, room_id, sender, body, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, storageErr("query history", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Body, &msg.CreatedAt); err != nil {
			return nil, storageErr("scan history", err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate history", err)
	}
	return messages, nil
}

func (r *PgMessageRepository) Latest(ctx context.Context, roomID string) (domain.Message, error) {
	const query = `
		SELECT id, room_id, sender, body, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	var msg domain.Message
	err := r.pool.QueryRow(ctx, query, roomID).Scan(&msg.ID, &msg.RoomID, &msg.Sender, &msg.Body, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("%w: room %q has no messages", domain.ErrNotFound, roomID)
	}
	if err != nil {
		return domain.Message{}, storageErr("query latest", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}

const roomsForQuery = `
	SELECT DISTINCT room_id
	FROM messages
	WHERE room_id LIKE $1 ESCAPE '\' OR reverse(room_id) LIKE $2 ESCAPE '\'
`

// RoomsFor busca por prefijo estructural: "identity|%" sobre room_id y
// "reverse(|identity)%" sobre reverse(room_id), asi ambas ramas usan indice.
func (r *PgMessageRepository) RoomsFor(ctx context.Context, identity string) ([]string, error) {
	identity = room.NormalizeIdentity(identity)
	if identity == "" {
		return []string{}, nil
	}
	ids, err := r.queryRoomIDs(ctx, roomsForQuery, firstParticipantPattern(identity), secondParticipantPattern(identity))
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		if room.IsParticipant(id, identity) {
			out = append(out, id)
		}
	}
	return out, nil
}

func firstParticipantPattern(identity string) string {
	return escapeLike(identity+room.Delimiter) + "%"
}

// secondParticipantPattern se compara contra reverse(room_id).
func secondParticipantPattern(identity string) string {
	return escapeLike(reverseString(room.Delimiter+identity)) + "%"
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}

func (r *PgMessageRepository) ListRoomIDs(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT room_id FROM messages ORDER BY room_id`
	return r.queryRoomIDs(ctx, query)
}

func (r *PgMessageRepository) queryRoomIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query room ids", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan room id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate room ids", err)
	}
	return ids, nil
}

func (r *PgMessageRepository) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	const query = `SELECT COUNT(*) FROM messages WHERE room_id = $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, roomID).Scan(&count); err != nil {
		return 0, storageErr("count room", err)
	}
	return count, nil
}

func (r *PgMessageRepository) DeleteRoom(ctx context.Context, roomID string) (int64, error) {
	const query = `DELETE FROM messages WHERE room_id = $1`
	tag, err := r.pool.Exec(ctx, query, roomID)
	if err != nil {
		return 0, storageErr("delete room", err)
	}
	return tag.RowsAffected(), nil
}

// RenameRoom re-etiqueta los mensajes de oldID bajo newID. El orden dentro del
// room resultante lo sigue dando created_at, asi que la mezcla es por tiempo.
func (r *PgMessageRepository) RenameRoom(ctx context.Context, oldID, newID string) (int64, error) {
	if strings.TrimSpace(oldID) == "" || strings.TrimSpace(newID) == "" {
		return 0, fmt.Errorf("%w: room ids are required", domain.ErrValidation)
	}
	const query = `UPDATE messages SET room_id = $2 WHERE room_id = $1`
	tag, err := r.pool.Exec(ctx, query, oldID, newID)
	if err != nil {
		return 0, storageErr("rename room", err)
	}
	return tag.RowsAffected(), nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
