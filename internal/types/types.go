package types

import (
	"time"
)

// Identity is the subset of identity-provider data the server cares
// about. It arrives either inline on a join request or via a verified
// token at connection time.
type Identity struct {
	Id     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// User is one room membership, created on join and discarded on
// disconnect or when the connection joins another room.
type User struct {
	Id       string    `json:"id"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	Avatar   string    `json:"avatar,omitempty"`
	RoomId   string    `json:"roomId"`
	JoinedAt time.Time `json:"joinedAt,omitempty"`
}

// UserView is the publicly shareable projection of a User, the only
// form other clients ever see.
type UserView struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Avatar string `json:"avatar,omitempty"`
}

func (u *User) View() UserView {
	return UserView{
		Id:     u.Id,
		Name:   u.Name,
		Color:  u.Color,
		Avatar: u.Avatar,
	}
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t,omitempty"`
}

// StrokeOp is one drawing gesture. While in progress it lives in the
// room's in-progress table and only Points grows; once ended it is
// committed to history and never mutated again.
type StrokeOp struct {
	OpId       int       `json:"opId"`
	UserId     string    `json:"userId"`
	UserName   string    `json:"userName"`
	Tool       string    `json:"tool"`
	Color      string    `json:"color"`
	Width      float64   `json:"width"`
	BrushStyle string    `json:"brushStyle"`
	Points     []Point   `json:"points"`
	Timestamp  time.Time `json:"timestamp"`
}
