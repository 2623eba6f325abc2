package wire

import (
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/arzzra/softcall/pkg/call"
)

// FrameType тип push кадра.
type FrameType string

const (
	// FrameSnapshot - обновление известной сессии
	FrameSnapshot FrameType = "locus.updated"
	// FrameIncoming - новый входящий вызов
	FrameIncoming FrameType = "locus.incoming"
	// FramePing - проверка соединения, без данных
	FramePing FrameType = "ping"
)

// Frame push кадр сервера.
type Frame struct {
	ID       string    `json:"id,omitempty"`
	Type     FrameType `json:"eventType"`
	Snapshot *Snapshot `json:"locus,omitempty"`
}

// DecodedFrame кадр со снапшотом, уже преобразованным в call.
type DecodedFrame struct {
	ID       string
	Type     FrameType
	Snapshot *call.SessionSnapshot
}

// DecodeFrame разбирает push кадр. Кадры без снапшота допустимы
// только для FramePing.
func DecodeFrame(data []byte) (*DecodedFrame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}

	decoded := &DecodedFrame{ID: f.ID, Type: f.Type}
	switch f.Type {
	case FramePing:
		return decoded, nil
	case FrameSnapshot, FrameIncoming:
	default:
		return nil, errors.Errorf("unknown frame type %q", f.Type)
	}

	snap, err := f.Snapshot.ToCall()
	if err != nil {
		return nil, errors.Wrapf(err, "frame %s", f.Type)
	}
	decoded.Snapshot = snap
	return decoded, nil
}

// EncodeFrame сериализует кадр со снапшотом.
func EncodeFrame(id string, typ FrameType, snap *call.SessionSnapshot) ([]byte, error) {
	return json.Marshal(Frame{ID: id, Type: typ, Snapshot: FromCall(snap)})
}
