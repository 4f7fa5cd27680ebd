package jobrecord

// LabelBroadcastMediaMessage marks records for the broadcast media message
// job, which fans one uploaded attachment out to per-conversation copies.
const LabelBroadcastMediaMessage = "BroadcastMediaMessage"

// BroadcastMediaMessageRecord tracks a media broadcast send.
//
// AttachmentIDMap maps each source attachment id to the ordered list of its
// visible copies in individual conversations. Broadcasting a picture and a
// video to three recipients yields two entries of three copy ids each.
type BroadcastMediaMessageRecord struct {
	Record
	AttachmentIDMap map[string][]string `json:"attachment_id_map"`
}

// NewBroadcastMediaMessage creates a ready record for the given fan-out map.
func NewBroadcastMediaMessage(attachmentIDMap map[string][]string) *BroadcastMediaMessageRecord {
	return &BroadcastMediaMessageRecord{
		Record:          New(LabelBroadcastMediaMessage),
		AttachmentIDMap: attachmentIDMap,
	}
}
