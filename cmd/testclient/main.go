package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"
)

func main() {
	server := flag.String("server", "http://localhost:8000", "Control surface base URL")
	callID := flag.String("call", "call-"+time.Now().Format("150405"), "Call ID")
	phone := flag.String("phone", "+15550100", "Caller phone number")
	known := flag.Bool("known", false, "Caller is in the user's contacts")
	token := flag.String("token", "", "FCM destination token")
	hold := flag.Duration("hold", 30*time.Second, "How long to keep the call open")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	status := post(client, *server+"/call/start", map[string]any{
		"call_id":            *callID,
		"phone_number":       *phone,
		"incoming":           true,
		"exists_in_contacts": *known,
		"destination_token":  *token,
	})
	log.Printf("call/start: %s", status)

	time.Sleep(*hold)

	status = post(client, *server+"/call/end", map[string]any{
		"call_id":  *callID,
		"duration": int(hold.Seconds()),
	})
	log.Printf("call/end: %s", status)
}

func post(client *http.Client, url string, body map[string]any) string {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("failed to encode request: %v", err)
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request to %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("failed to decode response (%d): %v", resp.StatusCode, err)
	}
	return out.Status
}
