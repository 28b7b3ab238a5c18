package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/market-agent/pkg/a2a"
	"github.com/morezero/market-agent/pkg/dispatcher"
)

const commsLogPrefix = "server:comms"

// handleComms answers JSON-RPC envelopes received on the A2A subject. Each
// message is handled on its own goroutine so a blocking analysis does not
// stall the subscription. An A2A-Version header is honored as on HTTP.
func (s *Server) handleComms(ctx context.Context) comms.MsgHandler {
	return func(msg *comms.Msg) {
		s.commsWG.Add(1)
		go func() {
			defer s.commsWG.Done()

			reqCtx, cancel := context.WithTimeout(ctx, s.cfg.BackgroundTimeout)
			defer cancel()

			var opts []dispatcher.DispatchOption
			if msg.Header != nil {
				if constraint := msg.Header.Get(a2a.VersionHeader); constraint != "" {
					opts = append(opts, dispatcher.WithVersionConstraint(constraint))
				}
			}

			resp, _ := s.disp.Dispatch(reqCtx, msg.Data, opts...)
			if msg.Reply == "" {
				return
			}
			data, err := json.Marshal(resp)
			if err != nil {
				slog.Error(fmt.Sprintf("%s - failed to encode response: %v", commsLogPrefix, err))
				return
			}
			if err := msg.Respond(data); err != nil {
				slog.Warn(fmt.Sprintf("%s - failed to respond on %s: %v", commsLogPrefix, msg.Reply, err))
			}
		}()
	}
}
