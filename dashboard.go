package frontproxy

import (
	"encoding/json"
	"log"
	"net/http"
	"path"
	"runtime"
	"strconv"
	"sync"
	"text/template"
	"time"

	"github.com/gorilla/websocket"
)

// Payload is the envelope every dashboard websocket message carries: a
// kind tag the front-end JS switches on, plus an arbitrary JSON body.
type Payload struct {
	Kind string `json:"kind"`
	Body any    `json:"body"`
}

// Dashboard serves the live stats page and broadcasts Stats snapshots to
// every connected browser over a websocket, exactly the shape of the
// teacher's web.go — clients map, broadcast channel, upgrader — adapted
// to broadcast this server's request/response counters instead of proxy
// health. Per the "dashboard is additive" design note, a Dashboard with
// Port == 0 is never started and its absence changes no request-handling
// behavior: Log is always safe to call, it just has no effect.
type Dashboard struct {
	Port  int
	Stats *Stats

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mu        sync.Mutex
}

// NewDashboard wires a Dashboard to the Stats it will poll and broadcast.
func NewDashboard(port int, stats *Stats) *Dashboard {
	return &Dashboard{
		Port:      port,
		Stats:     stats,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte),
	}
}

// Start launches the dashboard's HTTP server and its periodic stat
// broadcaster. It blocks for as long as the HTTP server runs and returns
// only if that server fails; callers run it in its own goroutine.
// A Port of 0 means the dashboard is disabled and Start returns
// immediately without binding anything.
func (d *Dashboard) Start() {
	if d.Port == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", d.serveIndex)
	mux.HandleFunc("/ws", d.wsHandler)

	go d.handleMessages()
	go d.broadcastLoop()

	log.Println("frontproxy: dashboard listening on :", d.Port)
	if err := http.ListenAndServe(":"+strconv.Itoa(d.Port), mux); err != nil {
		log.Println("frontproxy: dashboard stopped:", err)
	}
}

// Log broadcasts a line of server log output to the dashboard. A no-op
// when the dashboard has no listeners: the line is dropped rather than
// blocking the caller.
func (d *Dashboard) Log(line string) {
	d.send(Payload{Kind: "log", Body: line})
}

func (d *Dashboard) broadcastLoop() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		d.send(Payload{Kind: "stat", Body: d.Stats.Snapshot()})
	}
}

func (d *Dashboard) send(p Payload) {
	body, err := json.Marshal(p)
	if err != nil {
		return
	}
	select {
	case d.broadcast <- body:
	default:
		// no readers yet (handleMessages not drained this tick); drop
		// rather than block the caller's request-handling goroutine.
	}
}

func (d *Dashboard) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("frontproxy: dashboard upgrade:", err)
		return
	}

	d.mu.Lock()
	d.clients[conn] = true
	d.mu.Unlock()
}

func (d *Dashboard) handleMessages() {
	for msg := range d.broadcast {
		d.mu.Lock()
		for c := range d.clients {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				delete(d.clients, c)
			}
		}
		d.mu.Unlock()
	}
}

func (d *Dashboard) serveIndex(w http.ResponseWriter, r *http.Request) {
	t, err := template.ParseFiles(path.Join(webAssetDir(), "template.html"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := t.Execute(w, "ws://"+r.Host+"/ws"); err != nil {
		log.Println("frontproxy: dashboard template execute:", err)
	}
}

// webAssetDir resolves the directory containing template.html relative to
// this source file, the same runtime.Caller trick the teacher uses so the
// asset path works regardless of the caller's working directory.
func webAssetDir() string {
	_, dir, _, _ := runtime.Caller(0)
	return path.Join(path.Dir(dir), "web")
}
