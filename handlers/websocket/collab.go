package websocket

import (
	"codecollab-server/config"
	"codecollab-server/session"
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

type ackInvoker func(err error, payload map[string]any)

// Gateway is the real-time half of the transport. It owns the socket.io
// server and implements session.Broadcaster on top of socket.io rooms.
type Gateway struct {
	srv     *socketio.Server
	timeout time.Duration

	mu      sync.RWMutex
	sockets map[string]*socketio.Socket
}

func NewGateway(cfg config.Config) *Gateway {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(corsOptions(cfg.AllowedOrigins))

	return &Gateway{
		srv:     socketio.NewServer(nil, opts),
		timeout: cfg.RequestTimeout,
		sockets: make(map[string]*socketio.Socket),
	}
}

func corsOptions(origins []string) *types.Cors {
	allowed := make([]any, 0, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			return &types.Cors{Origin: "*"}
		}
		allowed = append(allowed, origin)
	}
	return &types.Cors{
		Origin:      allowed,
		Credentials: true,
	}
}

// Handler serves the socket.io endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.srv.ServeHandler(nil)
}

func (g *Gateway) Close() {
	g.srv.Close(nil)
}

// Serve routes the events of every new connection to its session.
func (g *Gateway) Serve(engine *session.Engine) {
	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	g.srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		connID := string(socket.Id())
		g.track(connID, socket)
		sess := engine.Connect(connID)

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(session.EventJoin, func(datas ...any) {
			g.handleJoin(sess, datas)
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(session.EventCodeChange, func(datas ...any) {
			var p codeChangePayload
			if err := decodePayload(datas, &p); err != nil {
				logDropped(connID, session.EventCodeChange, err)
				return
			}
			if err := sess.Edit(p.RoomID, p.FileID, p.Code); err != nil {
				logDropped(connID, session.EventCodeChange, err)
			}
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(session.EventTyping, func(datas ...any) {
			var p presencePayload
			if err := decodePayload(datas, &p); err != nil {
				logDropped(connID, session.EventTyping, err)
				return
			}
			if err := sess.Typing(p.RoomID, p.name()); err != nil {
				logDropped(connID, session.EventTyping, err)
			}
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(session.EventLanguageChange, func(datas ...any) {
			var p languagePayload
			if err := decodePayload(datas, &p); err != nil {
				logDropped(connID, session.EventLanguageChange, err)
				return
			}
			if err := sess.ChangeLanguage(p.RoomID, p.Language); err != nil {
				logDropped(connID, session.EventLanguageChange, err)
			}
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On(session.EventLeaveRoom, func(...any) {
			sess.Leave()
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("disconnect", func(...any) {
			sess.Disconnect()
			g.untrack(connID)
			socket.RemoveAllListeners("")
		})
	})
}

func (g *Gateway) handleJoin(sess *session.Session, datas []any) {
	ack, args := extractAck(datas)

	var p presencePayload
	if err := decodePayload(args, &p); err != nil {
		respondWithAck(ack, joinAckPayload(nil, err), err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	users, err := sess.Join(ctx, p.RoomID, p.name())
	if err != nil {
		logDropped(sess.ID(), session.EventJoin, err)
	}
	respondWithAck(ack, joinAckPayload(users, err), err)
}

// Join implements session.Broadcaster.
func (g *Gateway) Join(connID, roomID string) {
	if socket := g.socket(connID); socket != nil {
		socket.Join(socketio.Room(roomID))
	}
}

// Leave implements session.Broadcaster.
func (g *Gateway) Leave(connID, roomID string) {
	if socket := g.socket(connID); socket != nil {
		socket.Leave(socketio.Room(roomID))
	}
}

// EmitRoom implements session.Broadcaster.
func (g *Gateway) EmitRoom(roomID, event string, payload any) error {
	return g.srv.To(socketio.Room(roomID)).Emit(event, payload)
}

// EmitOthers implements session.Broadcaster.
func (g *Gateway) EmitOthers(connID, roomID, event string, payload any) error {
	socket := g.socket(connID)
	if socket == nil {
		return fmt.Errorf("connection %s is not tracked", connID)
	}
	return socket.Broadcast().To(socketio.Room(roomID)).Emit(event, payload)
}

func (g *Gateway) track(connID string, socket *socketio.Socket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sockets[connID] = socket
}

func (g *Gateway) untrack(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sockets, connID)
}

func (g *Gateway) socket(connID string) *socketio.Socket {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sockets[connID]
}

func logDropped(connID, event string, err error) {
	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"event":   event,
	}).WithError(err).Warn("Dropping socket event")
}

type (
	// presencePayload carries join and typing events. Older clients send
	// userName instead of displayName.
	presencePayload struct {
		RoomID      string `mapstructure:"roomId"`
		DisplayName string `mapstructure:"displayName"`
		UserName    string `mapstructure:"userName"`
	}

	codeChangePayload struct {
		RoomID string `mapstructure:"roomId"`
		FileID string `mapstructure:"fileId"`
		Code   string `mapstructure:"code"`
	}

	languagePayload struct {
		RoomID   string `mapstructure:"roomId"`
		Language string `mapstructure:"language"`
	}
)

func (p presencePayload) name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserName
}

// decodePayload decodes the first event argument, a JSON object, into out.
// Scalars are converted leniently so a numeric file id still decodes.
func decodePayload(args []any, out any) error {
	if len(args) == 0 || args[0] == nil {
		return fmt.Errorf("missing event payload")
	}
	if _, ok := args[0].(map[string]any); !ok {
		return fmt.Errorf("event payload must be an object, got %T", args[0])
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(args[0])
}

func joinAckPayload(users []string, err error) map[string]any {
	if err != nil {
		return map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	return map[string]any{
		"status": "ok",
		"users":  users,
	}
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	candidate := datas[len(datas)-1]
	ack = wrapAck(candidate)
	if ack == nil {
		return nil, datas
	}

	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}

	value := reflect.ValueOf(candidate)
	if !value.IsValid() || value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	if typ.IsVariadic() && typ.NumIn() == 1 {
		// socket.io style func(...any): the payload already carries the status.
		return func(_ error, payload map[string]any) {
			value.Call([]reflect.Value{reflect.ValueOf(payload)})
		}
	}
	return func(err error, payload map[string]any) {
		value.Call(buildAckArgs(typ, err, payload))
	}
}

// buildAckArgs maps (err, payload) onto the parameters of the client's ack
// callback. A single-parameter callback gets the error if there is one and
// the payload otherwise.
func buildAckArgs(typ reflect.Type, err error, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	args := make([]reflect.Value, numIn)

	for i := 0; i < numIn; i++ {
		var argValue any
		switch {
		case numIn == 1 && err != nil:
			argValue = err
		case numIn == 1:
			argValue = payload
		case i == 0 && err != nil:
			argValue = err
		case i == 1:
			argValue = payload
		}
		args[i] = coerceValue(argValue, typ.In(i))
	}

	return args
}

func coerceValue(value any, targetType reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(targetType)
	}

	rv := reflect.ValueOf(value)
	if rv.Type().AssignableTo(targetType) {
		return rv
	}
	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType)
	}
	if targetType.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprint(value)).Convert(targetType)
	}

	return reflect.Zero(targetType)
}

func respondWithAck(ack ackInvoker, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}
}
