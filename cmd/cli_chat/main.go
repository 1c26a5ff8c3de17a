package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/net/websocket"

	"talentchat/internal/domain"
	"talentchat/internal/service"
)

const (
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

type cliConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	HTTPPort  string `env:"HTTP_PORT" envDefault:"8080"`
}

type frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type client struct {
	baseURL  string
	token    string
	identity string
	http     *http.Client
}

func main() {
	as := flag.String("as", "", "email con el que se firma el token de prueba")
	server := flag.String("server", "", "URL base del API (default http://localhost:$HTTP_PORT)")
	flag.Parse()

	_ = godotenv.Load()

	var cfg cliConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required to sign a local token")
	}
	identity := strings.ToLower(strings.TrimSpace(*as))
	if identity == "" {
		log.Fatal("use -as <email>")
	}
	baseURL := strings.TrimRight(*server, "/")
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.HTTPPort
	}

	jwtSvc := service.NewJWTService(cfg.JWTSecret, 12*time.Hour)
	token, err := jwtSvc.GenerateAccessToken(domain.User{ID: uuid.NewString(), Email: identity}, "member")
	if err != nil {
		log.Fatal(err)
	}

	c := &client{baseURL: baseURL, token: token, identity: identity, http: &http.Client{Timeout: 10 * time.Second}}
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Printf("\n--- Conectado como: %s ---\n", identity)
		fmt.Println("[1] Ver conversaciones")
		fmt.Println("[2] Chatear")
		fmt.Println("[3] Borrar conversacion")
		fmt.Println("[4] Salir")
		fmt.Print("Selecciona una opcion: ")

		line, _ := reader.ReadString('\n')
		switch strings.TrimSpace(line) {
		case "1":
			if err := c.printInbox(); err != nil {
				fmt.Printf("Error listando conversaciones: %v\n", err)
			}
		case "2":
			fmt.Print("Email del destinatario: ")
			recipient, _ := reader.ReadString('\n')
			if err := c.chatFlow(reader, strings.TrimSpace(recipient)); err != nil {
				fmt.Printf("Error en chat: %v\n", err)
			}
		case "3":
			fmt.Print("Room id: ")
			roomID, _ := reader.ReadString('\n')
			if err := c.deleteRoom(strings.TrimSpace(roomID)); err != nil {
				fmt.Printf("Error borrando conversacion: %v\n", err)
			}
		case "4":
			os.Exit(0)
		default:
			fmt.Println("Opcion invalida.")
		}
	}
}

func (c *client) do(method, path string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) printInbox() error {
	var resp struct {
		Rooms []domain.RoomSummary `json:"rooms"`
	}
	if err := c.do(http.MethodGet, "/rooms", &resp); err != nil {
		return err
	}
	if len(resp.Rooms) == 0 {
		fmt.Println("No hay conversaciones.")
		return nil
	}
	for _, r := range resp.Rooms {
		marker := " "
		if r.Unread {
			marker = "*"
		}
		fmt.Printf("%s %s%s%s (%s) %s: %s\n", marker, colorCyan, r.CounterpartDisplayName, colorReset,
			r.RoomID, r.LastSender, r.LastMessage)
	}
	return nil
}

func (c *client) deleteRoom(roomID string) error {
	if roomID == "" {
		return errors.New("room id vacio")
	}
	var resp struct {
		Deleted int64 `json:"deleted_messages"`
	}
	if err := c.do(http.MethodDelete, "/rooms/"+url.PathEscape(roomID), &resp); err != nil {
		return err
	}
	fmt.Printf("%d mensajes borrados.\n", resp.Deleted)
	return nil
}

func (c *client) chatFlow(reader *bufio.Reader, recipient string) error {
	if recipient == "" {
		return errors.New("destinatario vacio")
	}
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws?access_token=" + url.QueryEscape(c.token)
	conn, err := websocket.Dial(wsURL, "", c.baseURL)
	if err != nil {
		return fmt.Errorf("conectar websocket: %w", err)
	}
	defer conn.Close()

	if err := send(conn, "chat.join", map[string]string{"recipient": recipient}); err != nil {
		return err
	}
	var joined frame
	if err := websocket.JSON.Receive(conn, &joined); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	if joined.Type != "chat.joined" {
		return fmt.Errorf("join rechazado: %s", joined.Payload)
	}

	var history struct {
		Messages []domain.Message `json:"messages"`
	}
	var room struct {
		RoomID string `json:"room_id"`
	}
	_ = json.Unmarshal(joined.Payload, &room)
	if err := c.do(http.MethodGet, "/rooms/"+url.PathEscape(room.RoomID)+"/messages", &history); err == nil {
		for _, m := range history.Messages {
			c.printMessage(m)
		}
	}

	go c.readLoop(conn)

	fmt.Println("---- Modo Chat (escribe 'salir' para terminar chat) ----")
	for {
		text, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("leer input: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.EqualFold(text, "salir") || strings.EqualFold(text, "exit") {
			fmt.Println("Saliendo del chat...")
			return nil
		}
		if err := send(conn, "chat.send", map[string]string{"room_id": room.RoomID, "body": text}); err != nil {
			return err
		}
	}
}

func (c *client) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := websocket.JSON.Receive(conn, &f); err != nil {
			return
		}
		switch f.Type {
		case "chat.message":
			var ev struct {
				Message domain.Message `json:"message"`
			}
			if err := json.Unmarshal(f.Payload, &ev); err == nil {
				c.printMessage(ev.Message)
			}
		case "chat.error":
			fmt.Printf("error: %s\n", f.Payload)
		}
	}
}

func (c *client) printMessage(m domain.Message) {
	color := colorCyan
	if m.Sender == c.identity {
		color = colorGreen
	}
	fmt.Printf("%s[%s] %s%s > %s\n", color, m.CreatedAt.Local().Format("15:04:05"), m.Sender, colorReset, m.Body)
}

func send(conn *websocket.Conn, frameType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return websocket.JSON.Send(conn, frame{Type: frameType, RequestID: uuid.NewString(), Payload: raw})
}
