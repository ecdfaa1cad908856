package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"cancerimmune.bio/internal/observerproto"
	"cancerimmune.bio/internal/sim/model"
	"cancerimmune.bio/internal/sim/tissue"
)

const maxEverySteps = 10000

type Server struct {
	tissue *tissue.Tissue
	log    *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(t *tissue.Tissue, logger *log.Logger) *Server {
	return &Server{
		tissue: t,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 256 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Bootstrap describes the run so a viewer can size its scene before frames arrive.
func Bootstrap(t *tissue.Tissue) observerproto.BootstrapResponse {
	tune := t.Tuning()
	reg := t.Registry()
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		RunID:           t.RunID(),
		Step:            t.CurrentStep(),
		Time:            t.Time(),
		RunParams: observerproto.RunParams{
			TickRateHz:  tune.TickRateHz,
			DT:          tune.DT,
			PhenotypeDT: tune.PhenotypeDT,
			TumorRadius: tune.Parameters.Double("tumor_radius"),
			Seed:        int64(tune.Parameters.Int("random_seed")),
		},
		Densities: reg.Micro.Names(),
	}
	for _, k := range []model.Kind{model.KindTumor, model.KindImmune, model.KindMacrophage} {
		ct := reg.ByKind(k)
		if ct == nil {
			continue
		}
		resp.CellTypes = append(resp.CellTypes, observerproto.CellTypeInfo{
			Name:   ct.Name,
			Kind:   k.String(),
			Radius: ct.Phenotype.Radius,
		})
	}
	return resp
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(Bootstrap(s.tissue))
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, err := parseSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		out := make(chan []byte, 16)

		joinReq := tissue.ObserverJoinRequest{
			SessionID:  sid,
			Out:        out,
			EverySteps: sub.EverySteps,
			Kinds:      sub.Kinds,
		}
		select {
		case s.tissue.ObserverJoin() <- joinReq:
		default:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"), time.Now().Add(time.Second))
			return
		}
		defer func() {
			select {
			case s.tissue.ObserverLeave() <- sid:
			default:
				// Tissue loop is stopping; nothing else to do.
			}
		}()
		s.logf("observer joined session=%s every=%d kinds=%v", sid, sub.EverySteps, sub.Kinds)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b, ok := <-out:
					if !ok {
						writeErr <- nil
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			sub, err := parseSubscribe(msg)
			if err != nil {
				continue
			}
			req := tissue.ObserverSubscribeRequest{
				SessionID:  sid,
				EverySteps: sub.EverySteps,
				Kinds:      sub.Kinds,
			}
			select {
			case s.tissue.ObserverSubscribe() <- req:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, error) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, fmt.Errorf("bad subscribe")
	}
	if sub.Type != "SUBSCRIBE" || sub.ProtocolVersion != observerproto.Version {
		return sub, fmt.Errorf("expected SUBSCRIBE")
	}
	normalizeSubscribe(&sub)
	return sub, nil
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.EverySteps < 0 {
		sub.EverySteps = 0
	}
	if sub.EverySteps > maxEverySteps {
		sub.EverySteps = maxEverySteps
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
