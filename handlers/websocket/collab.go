package websocket

import (
	"collabboard/broker"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// NewServer builds the socket.io server with the transport options the
// collaboration clients expect.
func NewServer() *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(10_000_000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	return socketio.NewServer(nil, opts)
}

// Gateway adapts the socket.io server to the broker's delivery boundary.
// Every socket is implicitly a member of the room named after its own id,
// which is what makes single-connection delivery a room emit.
type Gateway struct {
	io *socketio.Server
}

func NewGateway(io *socketio.Server) *Gateway {
	return &Gateway{io: io}
}

func (g *Gateway) ToConnection(conn broker.ConnID, event string, payload ...any) {
	if err := g.io.To(socketio.Room(conn)).Emit(event, payload...); err != nil {
		logrus.WithError(err).WithField("socket_id", conn).Debug("unicast emit failed")
	}
}

func (g *Gateway) ToRoom(roomID string, event string, payload ...any) {
	if err := g.io.To(socketio.Room(roomID)).Emit(event, payload...); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Debug("room emit failed")
	}
}

func (g *Gateway) ToRoomExcept(roomID string, except broker.ConnID, event string, payload ...any) {
	if err := g.io.To(socketio.Room(roomID)).Except(socketio.Room(except)).Emit(event, payload...); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Debug("room emit failed")
	}
}

// Register wires the broker onto the socket.io server. One generic callback
// per routable event kind replaces the per-feature handler sprawl; only
// join and disconnect need dedicated handling.
func Register(srv *socketio.Server, rt *broker.Router) {
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		conn := broker.ConnID(socket.Id())
		logrus.WithField("socket_id", conn).Debug("socket connected")

		socket.On(string(broker.EventJoinRoom), func(datas ...any) {
			roomID, username := parseJoinArgs(datas)
			if roomID == "" {
				logrus.WithField("socket_id", conn).Debug("join-room without a room id")
				return
			}

			// Transport-level membership mirrors the registry: leave every
			// previous room (the self room excepted) before joining.
			for _, room := range socket.Rooms().Keys() {
				if room != socketio.Room(socket.Id()) {
					socket.Leave(room)
				}
			}
			socket.Join(socketio.Room(roomID))

			rt.HandleJoin(conn, roomID, username)
		})

		for _, kind := range broker.InboundKinds() {
			kind := kind
			socket.On(string(kind), func(datas ...any) {
				var payload any
				if len(datas) > 0 {
					payload = datas[0]
				}
				rt.Dispatch(conn, kind, payload)
			})
		}

		socket.On("disconnecting", func(...any) {
			logrus.WithField("socket_id", conn).Debug("socket disconnecting")
			rt.HandleDisconnect(conn)
		})

		socket.On("disconnect", func(...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})
}

// parseJoinArgs accepts the client join form {roomId, username}.
func parseJoinArgs(datas []any) (roomID, username string) {
	if len(datas) == 0 {
		return "", ""
	}
	switch arg := datas[0].(type) {
	case string:
		return arg, ""
	case map[string]any:
		roomID, _ = arg["roomId"].(string)
		username, _ = arg["username"].(string)
		return roomID, username
	}
	return "", ""
}
