package domain

type RoomName string

// Rooms are plain string keys in three namespaces: a per-user inbox that
// every connection of the user joins, a per-chat broadcast group, and a
// per-call group.
func UserRoom(id UserID) RoomName { return RoomName("user:" + string(id)) }
func ChatRoom(id string) RoomName { return RoomName("chat:" + id) }
func CallRoom(id CallID) RoomName { return RoomName("call:" + string(id)) }
