package activitypub

import (
	"encoding/json"
)

// Activity is one parsed inbound activity. The concrete type is one of
// *Follow, *Accept, *Reject, *Undo, *Announce, *Update, *Delete or *Unknown.
type Activity interface {
	Base() *Envelope
}

// Envelope holds the fields every activity carries.
type Envelope struct {
	ID    string
	Type  string
	Actor string
	Raw   map[string]any
}

func (e *Envelope) Base() *Envelope { return e }

// FollowRef is a Follow embedded in an Accept, Reject or Undo. A bare IRI
// leaves Inline false and sets only ID; whether it names a Follow is up to
// the handler.
type FollowRef struct {
	ID     string
	Actor  string
	Object string
	Inline bool
}

type Follow struct {
	Envelope
	Object string
}

type Accept struct {
	Envelope
	Follow FollowRef
}

type Reject struct {
	Envelope
	Follow FollowRef
}

type Undo struct {
	Envelope
	Follow FollowRef
}

// Announce shares an object, inline or by IRI. Whether it is a Video is only
// known once the object is resolved.
type Announce struct {
	Envelope
	Object any
}

// Update carries the new representation of a Video.
type Update struct {
	Envelope
	Object map[string]any
}

type Delete struct {
	Envelope
	ObjectID string
}

// Unknown is every activity this server does not act upon.
type Unknown struct {
	Envelope
	Reason string
}

// ParseActivity decodes an inbox body into its variant. Bodies that are not
// an activity at all yield a *ProtocolViolation.
func ParseActivity(body []byte) (Activity, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, violation("invalid JSON: %v", err)
	}
	if raw == nil {
		return nil, violation("activity is not an object")
	}
	env := Envelope{
		ID:    idOf(raw["id"]),
		Type:  stringField(raw, "type"),
		Actor: idOf(raw["actor"]),
		Raw:   raw,
	}
	if env.Type == "" {
		return nil, violation("activity has no type")
	}
	if env.Actor == "" {
		return nil, violation("%s has no actor", env.Type)
	}

	object := raw["object"]
	switch env.Type {
	case "Follow":
		target := idOf(object)
		if target == "" {
			return nil, violation("Follow has no object")
		}
		return &Follow{Envelope: env, Object: target}, nil
	case "Accept", "Reject", "Undo":
		ref, ok := followRef(object)
		if !ok {
			return &Unknown{Envelope: env, Reason: env.Type + " of a non-Follow object"}, nil
		}
		switch env.Type {
		case "Accept":
			return &Accept{Envelope: env, Follow: ref}, nil
		case "Reject":
			return &Reject{Envelope: env, Follow: ref}, nil
		default:
			return &Undo{Envelope: env, Follow: ref}, nil
		}
	case "Announce":
		if idOf(object) == "" {
			return nil, violation("Announce has no object")
		}
		return &Announce{Envelope: env, Object: object}, nil
	case "Update":
		obj, ok := object.(map[string]any)
		if !ok || stringField(obj, "type") != "Video" {
			return &Unknown{Envelope: env, Reason: "Update of a non-Video object"}, nil
		}
		if idOf(obj) == "" {
			return nil, violation("Update object has no id")
		}
		return &Update{Envelope: env, Object: obj}, nil
	case "Delete":
		target := idOf(object)
		if target == "" {
			return nil, violation("Delete has no object")
		}
		return &Delete{Envelope: env, ObjectID: target}, nil
	default:
		return &Unknown{Envelope: env, Reason: "unsupported type"}, nil
	}
}

// followRef reads a Follow embedded inline or referenced by IRI.
func followRef(object any) (FollowRef, bool) {
	switch o := object.(type) {
	case string:
		return FollowRef{ID: o}, o != ""
	case map[string]any:
		if stringField(o, "type") != "Follow" {
			return FollowRef{}, false
		}
		return FollowRef{
			ID:     idOf(o["id"]),
			Actor:  idOf(o["actor"]),
			Object: idOf(o["object"]),
			Inline: true,
		}, true
	}
	return FollowRef{}, false
}

// idOf returns an IRI, or the id of an inline object.
func idOf(v any) string {
	switch o := v.(type) {
	case string:
		return o
	case map[string]any:
		id, _ := o["id"].(string)
		return id
	}
	return ""
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}
