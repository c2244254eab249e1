// Package base implements the base app: session-key validation, per-peer
// blowfish channel installation, the initial entity burst, and entity
// method dispatch.
package base

import (
	"wtproto/pkg/bundle"
	"wtproto/pkg/codec"
)

// Element ids, this implementation's own stable choice.
const (
	ElemClientAuth                  uint8 = 0x00
	ElemServerSessionKey            uint8 = 0x01
	ElemClientSessionKey            uint8 = 0x02
	ElemUpdateFrequencyNotification uint8 = 0x03
	ElemTickSync                    uint8 = 0x04
	ElemResetEntities               uint8 = 0x05
	ElemCreateBasePlayer            uint8 = 0x06
	ElemSelectPlayerEntity          uint8 = 0x07
	ElemResourceHeader              uint8 = 0x08
	ElemResourceFragment            uint8 = 0x09

	// Entity method ranges: method_index = id - First.
	EntityMethodFirst     uint8 = 0x20
	EntityMethodLast      uint8 = 0x5F
	BaseEntityMethodFirst uint8 = 0x60
	BaseEntityMethodLast  uint8 = 0x9F
	CellEntityMethodFirst uint8 = 0xA0
	CellEntityMethodLast  uint8 = 0xDF
)

// Dispatch is the base app's bundle element framing table.
var Dispatch = bundle.Dispatch{
	ElemClientAuth:                  {ID: ElemClientAuth, Name: "ClientAuth", Length: bundle.LengthFixed, FixedBytes: 7},
	ElemServerSessionKey:            {ID: ElemServerSessionKey, Name: "ServerSessionKey", Length: bundle.LengthFixed, FixedBytes: 4},
	ElemClientSessionKey:            {ID: ElemClientSessionKey, Name: "ClientSessionKey", Length: bundle.LengthFixed, FixedBytes: 4},
	ElemUpdateFrequencyNotification: {ID: ElemUpdateFrequencyNotification, Name: "UpdateFrequencyNotification", Length: bundle.LengthFixed, FixedBytes: 5},
	ElemTickSync:                    {ID: ElemTickSync, Name: "TickSync", Length: bundle.LengthFixed, FixedBytes: 1},
	ElemResetEntities:               {ID: ElemResetEntities, Name: "ResetEntities", Length: bundle.LengthFixed, FixedBytes: 1},
	ElemCreateBasePlayer:            {ID: ElemCreateBasePlayer, Name: "CreateBasePlayer", Length: bundle.LengthVar16},
	ElemSelectPlayerEntity:          {ID: ElemSelectPlayerEntity, Name: "SelectPlayerEntity", Length: bundle.LengthFixed, FixedBytes: 0},
	ElemResourceHeader:              {ID: ElemResourceHeader, Name: "ResourceHeader", Length: bundle.LengthVar16},
	ElemResourceFragment:            {ID: ElemResourceFragment, Name: "ResourceFragment", Length: bundle.LengthVar16},
}

func init() {
	for id := int(EntityMethodFirst); id <= int(EntityMethodLast); id++ {
		Dispatch[uint8(id)] = bundle.Descriptor{ID: uint8(id), Name: "EntityMethod", Length: bundle.LengthVar8}
	}
	for id := int(BaseEntityMethodFirst); id <= int(BaseEntityMethodLast); id++ {
		Dispatch[uint8(id)] = bundle.Descriptor{ID: uint8(id), Name: "BaseEntityMethod", Length: bundle.LengthVar8}
	}
	for id := int(CellEntityMethodFirst); id <= int(CellEntityMethodLast); id++ {
		Dispatch[uint8(id)] = bundle.Descriptor{ID: uint8(id), Name: "CellEntityMethod", Length: bundle.LengthVar8}
	}
}

// ClientAuth is the first element a base peer sends, redeeming a login_key
// minted by the login app.
type ClientAuth struct {
	LoginKey      uint32
	AttemptsCount uint8
	Unk           uint16
}

func EncodeClientAuth(c ClientAuth) []byte {
	w := codec.NewWriter()
	w.U32(c.LoginKey)
	w.U8(c.AttemptsCount)
	w.U16(c.Unk)
	return w.Bytes()
}

func DecodeClientAuth(body []byte) (ClientAuth, error) {
	r := codec.NewReader(body)
	key, err := r.U32()
	if err != nil {
		return ClientAuth{}, err
	}
	attempts, err := r.U8()
	if err != nil {
		return ClientAuth{}, err
	}
	unk, err := r.U16()
	if err != nil {
		return ClientAuth{}, err
	}
	return ClientAuth{LoginKey: key, AttemptsCount: attempts, Unk: unk}, nil
}

func EncodeSessionKey(k uint32) []byte {
	w := codec.NewWriter()
	w.U32(k)
	return w.Bytes()
}

func DecodeSessionKey(body []byte) (uint32, error) {
	r := codec.NewReader(body)
	return r.U32()
}

type UpdateFrequencyNotification struct {
	Frequency uint8
	GameTime  uint32
}

func EncodeUpdateFrequencyNotification(u UpdateFrequencyNotification) []byte {
	w := codec.NewWriter()
	w.U8(u.Frequency)
	w.U32(u.GameTime)
	return w.Bytes()
}

func EncodeTickSync(tick uint8) []byte {
	return []byte{tick}
}

func EncodeResetEntities(keepPlayerOnBase bool) []byte {
	w := codec.NewWriter()
	w.Bool(keepPlayerOnBase)
	return w.Bytes()
}

// CreateBasePlayer describes the minimal entity-creation element this
// implementation's protocol core needs; full entity-data serialization is
// left to the descriptor-driven entity layer above this package.
type CreateBasePlayer struct {
	EntityID   uint32
	EntityType uint16
	EntityData []byte
}

func EncodeCreateBasePlayer(c CreateBasePlayer) []byte {
	w := codec.NewWriter()
	w.U32(c.EntityID)
	w.U16(c.EntityType)
	w.PackedBlob(c.EntityData)
	return w.Bytes()
}

func DecodeCreateBasePlayer(body []byte) (CreateBasePlayer, error) {
	r := codec.NewReader(body)
	id, err := r.U32()
	if err != nil {
		return CreateBasePlayer{}, err
	}
	typ, err := r.U16()
	if err != nil {
		return CreateBasePlayer{}, err
	}
	data, err := r.PackedBlob()
	if err != nil {
		return CreateBasePlayer{}, err
	}
	return CreateBasePlayer{EntityID: id, EntityType: typ, EntityData: data}, nil
}

// ResourceHeader announces an incoming streamed resource ahead of its
// fragments. Description is an opaque pickled 2-tuple of (total_len,
// crc32); see EncodeResourceDescription/DecodeResourceDescription.
type ResourceHeader struct {
	ID          uint16
	Description []byte
}

func EncodeResourceHeader(h ResourceHeader) []byte {
	w := codec.NewWriter()
	w.U16(h.ID)
	w.PackedBlob(h.Description)
	return w.Bytes()
}

func DecodeResourceHeader(body []byte) (ResourceHeader, error) {
	r := codec.NewReader(body)
	id, err := r.U16()
	if err != nil {
		return ResourceHeader{}, err
	}
	desc, err := r.PackedBlob()
	if err != nil {
		return ResourceHeader{}, err
	}
	return ResourceHeader{ID: id, Description: desc}, nil
}

// ResourceFragment is one chunk of a streamed, zlib-compressed pickled
// value.
type ResourceFragment struct {
	ID          uint16
	SequenceNum uint8
	Last        bool
	Data        []byte
}

func EncodeResourceFragment(f ResourceFragment) []byte {
	w := codec.NewWriter()
	w.U16(f.ID)
	w.U8(f.SequenceNum)
	w.Bool(f.Last)
	w.PackedBlob(f.Data)
	return w.Bytes()
}

func DecodeResourceFragment(body []byte) (ResourceFragment, error) {
	r := codec.NewReader(body)
	id, err := r.U16()
	if err != nil {
		return ResourceFragment{}, err
	}
	seq, err := r.U8()
	if err != nil {
		return ResourceFragment{}, err
	}
	last, err := r.Bool()
	if err != nil {
		return ResourceFragment{}, err
	}
	data, err := r.PackedBlob()
	if err != nil {
		return ResourceFragment{}, err
	}
	return ResourceFragment{ID: id, SequenceNum: seq, Last: last, Data: data}, nil
}
