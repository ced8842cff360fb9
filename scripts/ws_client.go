// Package main runs a demo WebSocket client: it plans a small route, streams
// its events, and posts a completion event to watch the feed move.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	body := []byte(`{
		"scheduledDate": "2026-03-02",
		"vehicleId": "demo-truck",
		"capacity": 100,
		"startLocation": {"lat": 52.52, "lng": 13.405},
		"orders": [
			{"id": "ord-1", "location": {"lat": 52.53, "lng": 13.41}, "demand": [{"product": "cyl-13kg", "quantity": 2}]},
			{"id": "ord-2", "location": {"lat": 52.50, "lng": 13.39}, "demand": [{"product": "cyl-13kg", "quantity": 1}]}
		]
	}`)
	resp, err := http.Post(base+"/v1/optimize", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var optResp struct {
		Route struct {
			ID string `json:"id"`
		} `json:"route"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&optResp); err != nil {
		log.Fatal(err)
	}
	routeID := optResp.Route.ID
	if routeID == "" {
		log.Fatal("no route returned")
	}
	log.Printf("Route ID: %s", routeID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/routes/events/ws", RawQuery: "routeId=" + routeID}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	go func() {
		time.Sleep(500 * time.Millisecond)
		ev := []byte(fmt.Sprintf(`{"type":"status","orderId":"ord-1","driverId":"d1","timestamp":%q,"payload":{"status":"completed"}}`,
			time.Now().UTC().Format(time.RFC3339)))
		resp, err := http.Post(base+"/v1/routes/"+routeID+"/events", "application/json", bytes.NewReader(ev))
		if err != nil {
			log.Printf("post event: %v", err)
			return
		}
		_ = resp.Body.Close()
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			log.Println("done")
			return
		default:
		}
		_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
		_, msg, err := c.ReadMessage()
		if err != nil {
			log.Printf("read: %v", err)
			return
		}
		log.Printf("event: %s", msg)
	}
}
