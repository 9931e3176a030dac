package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"ai-voice-relay-service/internal/service/audio"
)

// Stream audio in chunks to simulate real-time streaming.
const chunkIntervalMs = 100

type serverFrame struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	IsFinal   bool    `json:"isFinal"`
	Error     string  `json:"error"`
	Audio     string  `json:"audio"`
	Conf      float64 `json:"confidence"`
}

func main() {
	audioFile := flag.String("audio", "../../testdata/sample-8khz.wav", "Path to WAV file (8kHz mono, PCM or mu-law)")
	serverURL := flag.String("server", "ws://localhost:8080/v1/relay", "Relay websocket URL")
	assistantId := flag.String("assistant", "default", "Assistant ID")
	userId := flag.String("user", "user-demo", "User ID")
	linger := flag.Duration("linger", 10*time.Second, "How long to keep listening after the audio ends")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	format, err := audio.ReadWAVHeader(f)
	if err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	log.Printf("WAV file: encoding=%s channels=%d sampleRate=%d bitsPerSample=%d",
		format.Encoding(), format.Channels, format.SampleRate, format.BitsPerSample)
	if format.SampleRate != 8000 {
		log.Printf("Warning: Sample rate is %d Hz, expected 8000 Hz", format.SampleRate)
	}

	ws, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer ws.Close()
	log.Printf("Connected to %s", *serverURL)

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		readyOnce := false
		var audioBytes int
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				log.Printf("Connection closed: %v (received %d audio bytes)", err, audioBytes)
				return
			}
			var msg serverFrame
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("Invalid frame: %s", data)
				continue
			}
			switch msg.Type {
			case "connection_ready":
				log.Printf("Session %s", msg.SessionID)
			case "ready":
				if !readyOnce {
					readyOnce = true
					close(ready)
				}
			case "transcript":
				if msg.IsFinal {
					log.Printf("USER (final, %.2f): %s", msg.Conf, msg.Text)
				}
			case "ai_response":
				log.Printf("ASSISTANT: %s", msg.Text)
			case "audio_response":
				if b, err := audio.DecodePayload(msg.Audio); err == nil {
					audioBytes += len(b)
				}
			case "error":
				log.Printf("Relay error: %s", msg.Error)
			}
		}
	}()

	hello := map[string]string{"type": "connected", "assistantId": *assistantId, "userId": *userId}
	if err := ws.WriteJSON(hello); err != nil {
		log.Fatalf("Failed to send connected: %v", err)
	}

	select {
	case <-ready:
	case <-done:
		return
	case <-time.After(15 * time.Second):
		log.Fatal("Relay did not become ready")
	}

	chunkSize := format.BytesPerSecond() * chunkIntervalMs / 1000
	if chunkSize <= 0 {
		chunkSize = 1600
	}
	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(audioChunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		frame := map[string]any{
			"event": "media",
			"media": map[string]string{"payload": audio.EncodePayload(audioChunk[:n])},
		}
		if err := ws.WriteJSON(frame); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
		if chunkNum%10 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time streaming
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	select {
	case <-done:
	case <-time.After(*linger):
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		<-done
	}
}
