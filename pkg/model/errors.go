package model

import "errors"

// ErrRoomNotFound is returned by stores when a room does not exist
var ErrRoomNotFound = errors.New("room not found")

// ErrRoomExists is returned when a room name is already taken
var ErrRoomExists = errors.New("room name already taken")
