package signaling

import "github.com/pion/webrtc/v4"

// Type is the wire discriminator carried in every envelope's "type" field.
type Type string

// Envelope types exchanged with the session server.
const (
	TypeJoinRoom         Type = "join_room"
	TypeLeaveRoom        Type = "leave_room"
	TypeRoomUsers        Type = "room_users"
	TypeUserJoined       Type = "user_joined"
	TypeUserLeft         Type = "user_left"
	TypeUserDisconnected Type = "user_disconnected"
	TypeOffer            Type = "offer"
	TypeAnswer           Type = "answer"
	TypeICECandidate     Type = "ice_candidate"
	TypeTextMessage      Type = "text_message"
	TypeMessageHistory   Type = "message_history"
	TypeTypingStart      Type = "typing_start"
	TypeTypingEnd        Type = "typing_end"
	TypePing             Type = "ping"
	TypeError            Type = "error"
	TypeFileUploaded     Type = "file_uploaded"
	TypeFileList         Type = "file_list"
)

// Envelope is the closed set of messages on the signaling transport. Only
// the types in this file implement it.
type Envelope interface {
	Type() Type
	envelope()
}

// UserInfo is one roster entry in a room_users snapshot.
type UserInfo struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ChatEntry is one message inside message_history.
type ChatEntry struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// FileEntry describes one file stored for a room. UploadTime is epoch
// milliseconds.
type FileEntry struct {
	FileID       string `json:"fileId"`
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	MimeType     string `json:"mimeType"`
	UploadTime   int64  `json:"uploadTime"`
	UploaderName string `json:"uploaderName"`
}

// JoinRoom asks to enter a room. UserName is an optional preferred display
// name; the server picks one when it is empty.
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName,omitempty"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// RoomUsers is the roster snapshot sent to a joiner. UserID and UserName
// identify the joiner itself; Users lists everyone else.
type RoomUsers struct {
	UserID   string     `json:"userId"`
	UserName string     `json:"userName"`
	Users    []UserInfo `json:"users"`
}

type UserJoined struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type UserDisconnected struct {
	UserID string `json:"userId"`
}

type Offer struct {
	TargetUserID string                    `json:"targetUserId"`
	UserID       string                    `json:"userId"`
	Offer        webrtc.SessionDescription `json:"offer"`
}

type Answer struct {
	TargetUserID string                    `json:"targetUserId"`
	UserID       string                    `json:"userId"`
	Answer       webrtc.SessionDescription `json:"answer"`
}

type ICECandidate struct {
	TargetUserID string                  `json:"targetUserId"`
	UserID       string                  `json:"userId"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

// TextMessage is sent with UserID, RoomID and Content; the server echoes it
// back to everyone with MessageID, UserName and Timestamp filled in.
type TextMessage struct {
	MessageID string `json:"messageId,omitempty"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type MessageHistory struct {
	Messages []ChatEntry `json:"messages"`
}

type TypingStart struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId,omitempty"`
}

type TypingEnd struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId,omitempty"`
}

type Ping struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

type Error struct {
	Message string `json:"message"`
}

// FileUploaded is broadcast after a successful upload. Servers disagree on
// the uploader field name, so both are accepted.
type FileUploaded struct {
	UploaderUserName string `json:"uploaderUserName,omitempty"`
	UploaderName     string `json:"uploaderName,omitempty"`
	Filename         string `json:"filename"`
}

// Uploader returns whichever uploader name the server filled in.
func (f FileUploaded) Uploader() string {
	if f.UploaderUserName != "" {
		return f.UploaderUserName
	}
	return f.UploaderName
}

type FileList struct {
	Files []FileEntry `json:"files"`
}

func (JoinRoom) Type() Type         { return TypeJoinRoom }
func (LeaveRoom) Type() Type        { return TypeLeaveRoom }
func (RoomUsers) Type() Type        { return TypeRoomUsers }
func (UserJoined) Type() Type       { return TypeUserJoined }
func (UserLeft) Type() Type         { return TypeUserLeft }
func (UserDisconnected) Type() Type { return TypeUserDisconnected }
func (Offer) Type() Type            { return TypeOffer }
func (Answer) Type() Type           { return TypeAnswer }
func (ICECandidate) Type() Type     { return TypeICECandidate }
func (TextMessage) Type() Type      { return TypeTextMessage }
func (MessageHistory) Type() Type   { return TypeMessageHistory }
func (TypingStart) Type() Type      { return TypeTypingStart }
func (TypingEnd) Type() Type        { return TypeTypingEnd }
func (Ping) Type() Type             { return TypePing }
func (Error) Type() Type            { return TypeError }
func (FileUploaded) Type() Type     { return TypeFileUploaded }
func (FileList) Type() Type         { return TypeFileList }

func (JoinRoom) envelope()         {}
func (LeaveRoom) envelope()        {}
func (RoomUsers) envelope()        {}
func (UserJoined) envelope()       {}
func (UserLeft) envelope()         {}
func (UserDisconnected) envelope() {}
func (Offer) envelope()            {}
func (Answer) envelope()           {}
func (ICECandidate) envelope()     {}
func (TextMessage) envelope()      {}
func (MessageHistory) envelope()   {}
func (TypingStart) envelope()      {}
func (TypingEnd) envelope()        {}
func (Ping) envelope()             {}
func (Error) envelope()            {}
func (FileUploaded) envelope()     {}
func (FileList) envelope()         {}
