package bdd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/plugin/route/realtime"
	"github.com/chirino/chat-service/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const eventWait = 5 * time.Second

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		r := &realtimeSteps{s: s, conns: map[string]*socket{}}
		ctx.Step(`^user "([^"]*)" is connected to realtime$`, r.userIsConnected)
		ctx.Step(`^user "([^"]*)" (subscribes to|unsubscribes from) conversation "([^"]*)"$`, r.userSubscribes)
		ctx.Step(`^user "([^"]*)" subscribing to conversation "([^"]*)" should be rejected$`, r.userSubscribeRejected)
		ctx.Step(`^user "([^"]*)" should receive a "([^"]*)" event on channel "([^"]*)"$`, r.shouldReceive)
		ctx.Step(`^user "([^"]*)" should receive a "([^"]*)" event on channel "([^"]*)" with data:$`, r.shouldReceiveWithData)
		ctx.Step(`^user "([^"]*)" should receive no "([^"]*)" event on channel "([^"]*)" within "([^"]*)" seconds$`, r.shouldReceiveNone)
		ctx.After(r.closeAll)
	})
}

type envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

type socket struct {
	ws      *websocket.Conn
	events  chan envelope
	replies chan realtime.Reply
	pending []envelope
}

// read splits incoming frames into event envelopes and control replies.
func (sk *socket) read() {
	defer close(sk.events)
	for {
		_, data, err := sk.ws.ReadMessage()
		if err != nil {
			return
		}
		var probe map[string]json.RawMessage
		if json.Unmarshal(data, &probe) != nil {
			continue
		}
		if _, ok := probe["event"]; ok {
			var env envelope
			if json.Unmarshal(data, &env) == nil {
				sk.events <- env
			}
			continue
		}
		var reply realtime.Reply
		if json.Unmarshal(data, &reply) == nil {
			sk.replies <- reply
		}
	}
}

// next returns the first envelope matching event and channel, keeping the others for
// later steps.
func (sk *socket) next(event, channel string, wait time.Duration) (envelope, bool) {
	for i, env := range sk.pending {
		if env.Event == event && env.Channel == channel {
			sk.pending = append(sk.pending[:i], sk.pending[i+1:]...)
			return env, true
		}
	}
	timeout := time.After(wait)
	for {
		select {
		case env, ok := <-sk.events:
			if !ok {
				return envelope{}, false
			}
			if env.Event == event && env.Channel == channel {
				return env, true
			}
			sk.pending = append(sk.pending, env)
		case <-timeout:
			return envelope{}, false
		}
	}
}

type realtimeSteps struct {
	s     *cucumber.TestScenario
	conns map[string]*socket
}

func (r *realtimeSteps) userIsConnected(name string) error {
	u, err := url.Parse(r.s.Suite.APIURL)
	if err != nil {
		return err
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/v1/realtime"
	u.RawQuery = url.Values{"access_token": {name}}.Encode()

	ws, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial realtime as %s: %w (status %d)", name, err, resp.StatusCode)
		}
		return fmt.Errorf("dial realtime as %s: %w", name, err)
	}
	sk := &socket{ws: ws, events: make(chan envelope, 64), replies: make(chan realtime.Reply, 8)}
	go sk.read()
	r.conns[name] = sk
	return nil
}

func (r *realtimeSteps) conn(name string) (*socket, error) {
	sk := r.conns[name]
	if sk == nil {
		return nil, fmt.Errorf("user %q is not connected to realtime", name)
	}
	return sk, nil
}

func (r *realtimeSteps) send(name, action, conversation string) (realtime.Reply, error) {
	sk, err := r.conn(name)
	if err != nil {
		return realtime.Reply{}, err
	}
	expanded, err := r.s.Expand(conversation)
	if err != nil {
		return realtime.Reply{}, err
	}
	id, err := uuid.Parse(expanded)
	if err != nil {
		return realtime.Reply{}, fmt.Errorf("conversation id %q: %w", expanded, err)
	}
	if err := sk.ws.WriteJSON(realtime.Frame{Action: action, ConversationID: id}); err != nil {
		return realtime.Reply{}, err
	}
	select {
	case reply := <-sk.replies:
		return reply, nil
	case <-time.After(eventWait):
		return realtime.Reply{}, fmt.Errorf("no reply to %s from realtime", action)
	}
}

func (r *realtimeSteps) userSubscribes(name, verb, conversation string) error {
	action := "subscribe"
	if verb == "unsubscribes from" {
		action = "unsubscribe"
	}
	reply, err := r.send(name, action, conversation)
	if err != nil {
		return err
	}
	if reply.Type != "ack" {
		return fmt.Errorf("%s rejected: %s", action, reply.Error)
	}
	return nil
}

func (r *realtimeSteps) userSubscribeRejected(name, conversation string) error {
	reply, err := r.send(name, "subscribe", conversation)
	if err != nil {
		return err
	}
	if reply.Type != "error" {
		return fmt.Errorf("expected subscribe to be rejected, got %s", reply.Type)
	}
	return nil
}

func (r *realtimeSteps) receive(name, event, channel string) (envelope, error) {
	sk, err := r.conn(name)
	if err != nil {
		return envelope{}, err
	}
	if channel, err = r.s.Expand(channel); err != nil {
		return envelope{}, err
	}
	env, ok := sk.next(event, channel, eventWait)
	if !ok {
		return envelope{}, fmt.Errorf("user %s did not receive %s on %s", name, event, channel)
	}
	return env, nil
}

func (r *realtimeSteps) shouldReceive(name, event, channel string) error {
	_, err := r.receive(name, event, channel)
	return err
}

func (r *realtimeSteps) shouldReceiveWithData(name, event, channel string, expected *godog.DocString) error {
	env, err := r.receive(name, event, channel)
	if err != nil {
		return err
	}
	return r.s.JSONMustContain(string(env.Data), expected.Content, true)
}

func (r *realtimeSteps) shouldReceiveNone(name, event, channel, seconds string) error {
	sk, err := r.conn(name)
	if err != nil {
		return err
	}
	if channel, err = r.s.Expand(channel); err != nil {
		return err
	}
	wait, err := strconv.ParseFloat(seconds, 64)
	if err != nil {
		return err
	}
	deadline := time.After(time.Duration(wait * float64(time.Second)))
	for {
		for _, env := range sk.pending {
			if env.Event == event && env.Channel == channel {
				return fmt.Errorf("user %s unexpectedly received %s on %s: %s", name, event, channel, env.Data)
			}
		}
		select {
		case env, ok := <-sk.events:
			if !ok {
				return nil
			}
			sk.pending = append(sk.pending, env)
		case <-deadline:
			return nil
		}
	}
}

func (r *realtimeSteps) closeAll(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
	for _, sk := range r.conns {
		_ = sk.ws.Close()
	}
	return ctx, err
}
