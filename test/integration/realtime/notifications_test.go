// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

//go:build integration

package realtime_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/taskhub/taskhub/internal/auth"
	"github.com/taskhub/taskhub/internal/core"
	"github.com/taskhub/taskhub/internal/realtime"
	"github.com/taskhub/taskhub/internal/socket"
)

const secret = "integration-secret"

// testEnv holds a fully wired real-time layer behind an httptest server.
type testEnv struct {
	bus      *core.Bus
	registry *core.ConnectionRegistry
	gateway  *realtime.Gateway
	emitter  *realtime.GatewayEmitter
	bridge   *realtime.Bridge
	issuer   *auth.JWTIssuer
	server   *httptest.Server
	clients  []*websocket.Conn
}

func setupTestEnv() *testEnv {
	logger := slog.New(slog.DiscardHandler)

	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{Secret: secret, Issuer: "taskhub"})
	Expect(err).NotTo(HaveOccurred())
	issuer, err := auth.NewJWTIssuer(auth.JWTConfig{Secret: secret, Issuer: "taskhub"})
	Expect(err).NotTo(HaveOccurred())

	env := &testEnv{
		bus:      core.NewBusWithLogger(logger),
		registry: core.NewConnectionRegistry(),
		issuer:   issuer,
	}

	env.gateway, err = realtime.NewGateway(realtime.GatewayConfig{
		Enabled:  true,
		Verifier: verifier,
		Registry: env.registry,
		Logger:   logger,
	})
	Expect(err).NotTo(HaveOccurred())
	env.gateway.Initialize()

	env.emitter = realtime.NewEmitter(env.gateway, logger)
	env.bridge = realtime.NewBridge(env.bus, env.emitter, realtime.BridgeOptions{Enabled: true, Logger: logger})
	env.bridge.Init()

	mux := http.NewServeMux()
	mux.Handle("/socket", env.gateway)
	mux.Handle("/socket/stats", env.gateway.StatsHandler())
	env.server = httptest.NewServer(mux)
	return env
}

func (e *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.bridge.Dispose()
	_ = e.gateway.Shutdown(ctx)
	for _, ws := range e.clients {
		_ = ws.Close()
	}
	e.server.Close()
}

func (e *testEnv) token(userID, email string, ttl time.Duration) string {
	token, err := e.issuer.Issue(auth.Identity{ID: userID, Email: email}, ttl)
	Expect(err).NotTo(HaveOccurred())
	return token
}

// dial opens a socket with the given token and returns it without reading.
func (e *testEnv) dial(token string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/socket"
	if token != "" {
		url += "?token=" + token
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	Expect(err).NotTo(HaveOccurred())
	_ = resp.Body.Close()
	e.clients = append(e.clients, ws)
	return ws
}

// connect opens an admitted socket for userID and consumes its welcome.
func (e *testEnv) connect(userID string) *websocket.Conn {
	ws := e.dial(e.token(userID, userID+"@example.com", time.Hour))
	Expect(read(ws).Event).To(Equal(realtime.EventWelcome))
	return ws
}

func read(ws *websocket.Conn) socket.Frame {
	Expect(ws.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
	_, msg, err := ws.ReadMessage()
	Expect(err).NotTo(HaveOccurred())

	var f socket.Frame
	Expect(json.Unmarshal(msg, &f)).To(Succeed())
	return f
}

func decode[T any](f socket.Frame) T {
	var v T
	Expect(json.Unmarshal(f.Data, &v)).To(Succeed())
	return v
}

// fence broadcasts a marker so a following read proves nothing else was queued.
func (e *testEnv) fence() {
	Expect(e.emitter.EmitToAll("fence", nil)).To(BeTrue())
}

var _ = Describe("Real-time notifications", func() {
	var env *testEnv

	BeforeEach(func() {
		env = setupTestEnv()
	})

	AfterEach(func() {
		env.cleanup()
	})

	Describe("handshake", func() {
		It("admits a signed token and registers the connection", func() {
			env.connect("u1")

			Expect(env.registry.HasUser("u1")).To(BeTrue())
			Expect(env.registry.ConnectionsFor("u1")).To(HaveLen(1))
		})

		It("refuses a connection without a token", func() {
			ws := env.dial("")

			f := read(ws)
			Expect(f.Event).To(Equal(socket.EventConnectError))
			Expect(decode[map[string]string](f)).To(HaveKeyWithValue("message", "Authentication required"))
			Expect(env.registry.Count()).To(BeZero())
		})

		It("refuses an expired token", func() {
			stale, err := auth.NewJWTIssuer(auth.JWTConfig{
				Secret: secret,
				Issuer: "taskhub",
				Now:    func() time.Time { return time.Now().Add(-2 * time.Hour) },
			})
			Expect(err).NotTo(HaveOccurred())
			token, err := stale.Issue(auth.Identity{ID: "u1", Email: "e@x.com"}, time.Hour)
			Expect(err).NotTo(HaveOccurred())

			ws := env.dial(token)

			f := read(ws)
			Expect(f.Event).To(Equal(socket.EventConnectError))
			Expect(decode[map[string]string](f)).To(HaveKeyWithValue("message", "Invalid token"))
			Expect(env.registry.HasUser("u1")).To(BeFalse())
		})

		It("unregisters the connection when the client leaves", func() {
			ws := env.connect("u1")
			Expect(ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))).To(Succeed())

			Eventually(func() bool { return env.registry.HasUser("u1") }).
				WithTimeout(2 * time.Second).Should(BeFalse())
		})
	})

	Describe("domain events", func() {
		It("pushes exactly one task:completed to the user", func() {
			ws := env.connect("u1")

			env.bus.Publish(context.Background(), core.TaskCompleted{UserID: "u1", TaskID: "t1", Title: "Buy milk"})
			env.fence()

			f := read(ws)
			Expect(f.Event).To(Equal(realtime.NotifyTaskCompleted))
			n := decode[realtime.TaskNotification](f)
			Expect(n.TaskID).To(Equal("t1"))
			Expect(n.Title).To(Equal("Buy milk"))
			Expect(n.Message).To(Equal("Congratulations! Task completed: Buy milk"))
			Expect(time.Parse(time.RFC3339Nano, n.Timestamp)).Error().NotTo(HaveOccurred())

			Expect(read(ws).Event).To(Equal("fence"))
		})

		It("reaches every tab of the user and no one else", func() {
			tab1 := env.connect("u1")
			tab2 := env.connect("u1")
			stranger := env.connect("u2")

			env.bus.Publish(context.Background(), core.TaskCreated{UserID: "u1", TaskID: "t9", Title: "Ship it", Priority: "high"})
			env.fence()

			for _, ws := range []*websocket.Conn{tab1, tab2} {
				f := read(ws)
				Expect(f.Event).To(Equal(realtime.NotifyTaskCreated))
				Expect(decode[realtime.TaskCreatedNotification](f).Message).To(Equal("New task created: Ship it"))
				Expect(read(ws).Event).To(Equal("fence"))
			}
			Expect(read(stranger).Event).To(Equal("fence"))
		})

		It("summarizes due-soon tasks", func() {
			ws := env.connect("u1")

			tasks := make([]core.TaskSummary, 7)
			for i := range tasks {
				tasks[i] = core.TaskSummary{ID: fmt.Sprintf("t%d", i), Title: fmt.Sprintf("Task %d", i)}
			}
			env.bus.Publish(context.Background(), core.TasksDueSoon{UserID: "u1", Tasks: tasks, DaysWindow: 3})

			f := read(ws)
			Expect(f.Event).To(Equal(realtime.NotifyTaskDueSoon))
			n := decode[realtime.DueSoonNotification](f)
			Expect(n.Count).To(Equal(7))
			Expect(n.Tasks).To(HaveLen(5))
			Expect(n.HasMore).To(BeTrue())
			Expect(n.Message).To(Equal("You have 7 pending tasks for the next 3 days"))
		})

		It("skips an empty due-soon list and never relays system errors", func() {
			ws := env.connect("u1")

			env.bus.Publish(context.Background(), core.TasksDueSoon{UserID: "u1", DaysWindow: 3})
			env.bus.Publish(context.Background(), core.SystemError{UserID: "u1", Source: "db", Message: "pool exhausted"})
			env.fence()

			Expect(read(ws).Event).To(Equal("fence"))
		})
	})

	Describe("shutdown", func() {
		It("tells clients, closes them, and clears the registry", func() {
			ws := env.connect("u1")

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(env.gateway.Shutdown(ctx)).To(Succeed())

			f := read(ws)
			Expect(f.Event).To(Equal(realtime.EventServerShutdown))
			Expect(decode[realtime.ServerShutdown](f).Message).NotTo(BeEmpty())

			_, _, err := ws.ReadMessage()
			Expect(websocket.IsCloseError(err, websocket.CloseGoingAway)).To(BeTrue())

			Expect(env.registry.Count()).To(BeZero())
			Expect(env.emitter.EmitToUser("u1", realtime.NotifyTaskCreated, nil)).To(BeFalse())
		})
	})

	Describe("stats endpoint", func() {
		It("reports users and connections", func() {
			env.connect("u1")
			env.connect("u1")
			env.connect("u2")

			resp, err := http.Get(env.server.URL + "/socket/stats")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var stats realtime.Stats
			Expect(json.NewDecoder(resp.Body).Decode(&stats)).To(Succeed())
			Expect(stats).To(Equal(realtime.Stats{Enabled: true, Initialized: true, Users: 2, Connections: 3}))
		})
	})
})
