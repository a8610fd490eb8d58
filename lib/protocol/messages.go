package protocol

// ExitCommand closes a room when sent by its host. Matching is performed on
// the message body after trimming surrounding whitespace and lowercasing.
const ExitCommand = "/exit"

// System notices delivered to members as raw-text datagrams. The texts are
// fixed by the wire protocol; clients display them verbatim.
const (
	// NoticeRoomClosed is sent to every remaining member before a room is
	// removed.
	NoticeRoomClosed = "チャットルームが閉じられました"

	// NoticeEvicted is sent to a member evicted for inactivity.
	NoticeEvicted = "しばらく発言しなかったので、チャットルームから退出させました"
)

// JoinNotice formats the system message announcing a new member.
func JoinNotice(username string) string {
	return username + " がチャットルームに参加しました"
}

// ChatLine formats a relayed chat message for delivery.
func ChatLine(username, body string) string {
	return username + ": " + body
}
