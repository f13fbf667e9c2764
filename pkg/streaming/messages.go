// Package streaming defines the multiplayer wire contract exchanged between
// the session authority and its replicas.
package streaming

import (
	"encoding/json"
	"fmt"
)

// Message type constants matching the replication protocol.
const (
	TypeHello        = "hello"
	TypeCouple       = "couple"
	TypeUncouple     = "uncouple"
	TypeSwitch       = "switch"
	TypeSessionState = "session_state"

	// Sent by replicas only.
	TypeUncoupleRequest = "uncouple_request"
	TypeTrainState      = "train_state"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the authority's acknowledgement of a hello.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`
}

// Hello is sent by a replica after connecting.
type Hello struct {
	User string `json:"user"`
}

// CarRef identifies a car in a replicated mutation.
type CarRef struct {
	UID     string `json:"uid"`
	CarID   string `json:"carId"`
	Flipped bool   `json:"flipped"`
}

// TravellerState is a replicated train end.
type TravellerState struct {
	Node      int     `json:"node"`
	Offset    float64 `json:"offset"`
	Direction int8    `json:"direction"`
}

// Couple tells replicas that Absorbed merged into Survivor. Cars is the
// survivor's complete car list after the merge.
type Couple struct {
	Survivor     int            `json:"survivor"`
	Absorbed     int            `json:"absorbed"`
	Incorporated bool           `json:"incorporated"`
	Cars         []CarRef       `json:"cars"`
	Front        TravellerState `json:"front"`
	Rear         TravellerState `json:"rear"`
	Speed        float64        `json:"speed"`
	User         string         `json:"user,omitempty"`
}

// Uncouple tells replicas that Original was split behind CarID, producing
// NewTrain. MoveHead is true when the head of the split went to NewTrain.
// Front and Rear are Original's ends after the split.
type Uncouple struct {
	Original int            `json:"original"`
	NewTrain int            `json:"newTrain"`
	NewName  string         `json:"newName"`
	NewKind  int            `json:"newKind"`
	CarID    string         `json:"carId"`
	MoveHead bool           `json:"moveHead"`
	Front    TravellerState `json:"front"`
	Rear     TravellerState `json:"rear"`
	User     string         `json:"user,omitempty"`
}

// Switch tells replicas that User now drives CarID in train Target.
type Switch struct {
	User     string `json:"user"`
	Previous int    `json:"previous"`
	Target   int    `json:"target"`
	CarID    string `json:"carId"`
	// StaticTarget means Target was static: Previous was reversed and left
	// static, Target became a pathless manual train.
	StaticTarget bool `json:"staticTarget,omitempty"`
	// Suspended means Previous was handed to AI and held in place.
	Suspended bool `json:"suspended,omitempty"`
}

// UncoupleRequest asks the authority to split Train behind CarID on behalf
// of User. Train and Name must still name the same train on the authority.
type UncoupleRequest struct {
	User      string `json:"user"`
	Train     int    `json:"train"`
	Name      string `json:"name"`
	CarID     string `json:"carId"`
	KeepFront bool   `json:"keepFront"`
}

// TrainState is the per-train entry of a session state broadcast. A replica
// also sends one for the train it drives after every tick.
type TrainState struct {
	Number int            `json:"number"`
	Name   string         `json:"name"`
	Kind   int            `json:"kind"`
	Speed  float64        `json:"speed"`
	Front  TravellerState `json:"front"`
	Owner  string         `json:"owner,omitempty"`
}

// SessionState is broadcast by the authority every tick.
type SessionState struct {
	Tick   uint64       `json:"tick"`
	Time   float64      `json:"time"`
	Trains []TrainState `json:"trains"`
}

// Wrap marshals a payload into an envelope of the given type.
func Wrap(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}

// Unwrap decodes an envelope payload into v.
func Unwrap(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return nil
}
