// Package gateway is the boundary to the chat platform. The game core only
// talks to the Gateway interface; the platform side connects through the
// websocket Bridge.
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoBridge        = errors.New("no gateway bridge connected")
	ErrAlreadyResolved = errors.New("interaction already resolved")
	ErrUnknownView     = errors.New("unknown or expired interaction")
	ErrNotYourView     = errors.New("this prompt is not for you")
)

type ChannelRef string

type MessageRef struct {
	Channel ChannelRef `json:"channel"`
	ID      string     `json:"id"`
}

type InteractionRef struct {
	ID      string     `json:"id"`
	Token   string     `json:"token,omitempty"`
	Channel ChannelRef `json:"channel,omitempty"`
}

// Colors used across embeds.
const (
	ColorInfo    = 0x3498db
	ColorSuccess = 0x2ecc71
	ColorWarning = 0xf1c40f
	ColorDanger  = 0xe74c3c
	ColorAmbient = 0x9b59b6
)

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Embed struct {
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Fields      []Field    `json:"fields,omitempty"`
	Color       int        `json:"color,omitempty"`
	Footer      string     `json:"footer,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Mentions    []int64    `json:"mentions,omitempty"`
}

func (e Embed) WithField(name, value string, inline bool) Embed {
	e.Fields = append(e.Fields, Field{Name: name, Value: value, Inline: inline})
	return e
}

type Reply struct {
	Content   string `json:"content,omitempty"`
	Embed     *Embed `json:"embed,omitempty"`
	Ephemeral bool   `json:"ephemeral"`
}

type ButtonStyle string

const (
	ButtonPrimary   ButtonStyle = "primary"
	ButtonSecondary ButtonStyle = "secondary"
	ButtonSuccess   ButtonStyle = "success"
	ButtonDanger    ButtonStyle = "danger"
)

type Button struct {
	Choice string      `json:"choice"`
	Label  string      `json:"label"`
	Style  ButtonStyle `json:"style,omitempty"`
}

// View is an embed with buttons. ID is filled in by Views.Open and echoed
// back by the platform when a button is clicked.
type View struct {
	ID      string   `json:"id"`
	Embed   Embed    `json:"embed"`
	Buttons []Button `json:"buttons"`
	Users   []int64  `json:"users,omitempty"`
}

// Gateway is everything the core needs from the chat platform. Delivery is
// best effort: callers log failures and keep their state changes.
type Gateway interface {
	Post(ctx context.Context, channel ChannelRef, embed Embed) (MessageRef, error)
	Edit(ctx context.Context, msg MessageRef, embed Embed) error
	Reply(ctx context.Context, interaction InteractionRef, reply Reply) error
	DirectMessage(ctx context.Context, userID int64, embed Embed) error
	CreateChannel(ctx context.Context, category, name string) (ChannelRef, error)
	DeleteChannel(ctx context.Context, channel ChannelRef) error
	RenameChannel(ctx context.Context, channel ChannelRef, name string) error
	SetAccess(ctx context.Context, channel ChannelRef, userID int64, allow bool) error
	PresentView(ctx context.Context, channel ChannelRef, view View) (MessageRef, error)
}

// Interaction is one inbound user action: a command or a button click.
type Interaction struct {
	ID       string            `json:"id"`
	Token    string            `json:"token,omitempty"`
	UserID   int64             `json:"user_id"`
	UserName string            `json:"user_name,omitempty"`
	Channel  ChannelRef        `json:"channel,omitempty"`
	Group    string            `json:"group"`
	Action   string            `json:"action,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
	ViewID   string            `json:"view_id,omitempty"`
	Choice   string            `json:"choice,omitempty"`
}

func (i Interaction) Ref() InteractionRef {
	return InteractionRef{ID: i.ID, Token: i.Token, Channel: i.Channel}
}

func (i Interaction) Arg(name string) string {
	return i.Args[name]
}
