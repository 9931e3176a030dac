package main

import (
	"encoding/json"
	"flag"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/v1/relay", "Relay websocket URL")
	assistantId := flag.String("assistant", "default", "Assistant ID")
	flag.Parse()

	ws, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer ws.Close()

	log.Println("Connected to relay")

	frames := []map[string]string{
		{"type": "connected", "assistantId": *assistantId, "userId": "user-demo"},
		{"type": "ping"},
		{"type": "text_input", "text": "Hello, what can you do?"},
		{"type": "text_input", "text": "Thanks, goodbye"},
	}

	for _, frame := range frames {
		log.Printf("Sending frame: type=%s", frame["type"])
		if err := ws.WriteJSON(frame); err != nil {
			log.Fatalf("failed to send frame: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	_ = ws.SetReadDeadline(time.Now().Add(20 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Printf("Connection closed: %v", err)
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("invalid frame: %s", data)
			continue
		}
		if msg["type"] == "audio_response" {
			continue
		}
		log.Printf("Received: %s", data)
	}
}
