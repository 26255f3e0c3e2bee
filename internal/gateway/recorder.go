package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Sent is one outbound call captured by a Recorder.
type Sent struct {
	Op      string
	Channel ChannelRef
	UserID  int64
	Embed   Embed
	Reply   Reply
	View    *View
	Name    string
	Allow   bool
}

// Recorder is an in-memory Gateway for tests. Calls are captured in order;
// Fail makes every subsequent call of an op return an error.
type Recorder struct {
	mu       sync.Mutex
	sent     []Sent
	channels int
	messages int
	failing  map[string]bool
}

func NewRecorder() *Recorder {
	return &Recorder{failing: make(map[string]bool)}
}

func (r *Recorder) Fail(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[op] = true
}

func (r *Recorder) record(s Sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing[s.Op] {
		return fmt.Errorf("recorder: %s failed", s.Op)
	}
	r.sent = append(r.sent, s)
	return nil
}

func (r *Recorder) nextMessage(channel ChannelRef) MessageRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages++
	return MessageRef{Channel: channel, ID: fmt.Sprintf("msg-%d", r.messages)}
}

func (r *Recorder) Post(_ context.Context, channel ChannelRef, embed Embed) (MessageRef, error) {
	if err := r.record(Sent{Op: "post", Channel: channel, Embed: embed}); err != nil {
		return MessageRef{}, err
	}
	return r.nextMessage(channel), nil
}

func (r *Recorder) Edit(_ context.Context, msg MessageRef, embed Embed) error {
	return r.record(Sent{Op: "edit", Channel: msg.Channel, Embed: embed})
}

func (r *Recorder) Reply(_ context.Context, interaction InteractionRef, reply Reply) error {
	return r.record(Sent{Op: "reply", Channel: interaction.Channel, Reply: reply})
}

func (r *Recorder) DirectMessage(_ context.Context, userID int64, embed Embed) error {
	return r.record(Sent{Op: "dm", UserID: userID, Embed: embed})
}

func (r *Recorder) CreateChannel(_ context.Context, category, name string) (ChannelRef, error) {
	if err := r.record(Sent{Op: "create_channel", Name: category + "/" + name}); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels++
	return ChannelRef(fmt.Sprintf("chan-%d", r.channels)), nil
}

func (r *Recorder) DeleteChannel(_ context.Context, channel ChannelRef) error {
	return r.record(Sent{Op: "delete_channel", Channel: channel})
}

func (r *Recorder) RenameChannel(_ context.Context, channel ChannelRef, name string) error {
	return r.record(Sent{Op: "rename_channel", Channel: channel, Name: name})
}

func (r *Recorder) SetAccess(_ context.Context, channel ChannelRef, userID int64, allow bool) error {
	return r.record(Sent{Op: "set_access", Channel: channel, UserID: userID, Allow: allow})
}

func (r *Recorder) PresentView(_ context.Context, channel ChannelRef, view View) (MessageRef, error) {
	v := view
	if err := r.record(Sent{Op: "view", Channel: channel, Embed: view.Embed, View: &v}); err != nil {
		return MessageRef{}, err
	}
	return r.nextMessage(channel), nil
}

// Sent returns a copy of everything captured so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Ops returns captured calls of one kind.
func (r *Recorder) Ops(op string) []Sent {
	var out []Sent
	for _, s := range r.Sent() {
		if s.Op == op {
			out = append(out, s)
		}
	}
	return out
}

// LastView returns the most recently presented view, or nil.
func (r *Recorder) LastView() *View {
	views := r.Ops("view")
	if len(views) == 0 {
		return nil
	}
	return views[len(views)-1].View
}
