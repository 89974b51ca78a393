// Package webrtcpeer implements the lobby's host capability on top of
// pion/webrtc: one peer connection and one pre-negotiated data channel per
// handshake session.
package webrtcpeer

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/sebastiansandqvist/p2p-game-lobby/lobby"
	"github.com/sebastiansandqvist/p2p-game-lobby/model"
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

const channelLabel = "lobby"

// Peer owns one webrtc.PeerConnection. The data channel is negotiated out
// of band with a fixed id, so both sides share it without any in-band
// channel announcement.
type Peer struct {
	pc         *webrtc.PeerConnection
	dc         *webrtc.DataChannel
	gatherDone <-chan struct{}
}

// New builds a peer connection against the default STUN set.
func New() (*Peer, error) {
	return NewWithICEServers([]webrtc.ICEServer{{URLs: defaultSTUNServers}})
}

func NewWithICEServers(servers []webrtc.ICEServer) (*Peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	var (
		id         uint16 = 0
		negotiated        = true
	)
	dc, err := pc.CreateDataChannel(channelLabel, &webrtc.DataChannelInit{
		ID:         &id,
		Negotiated: &negotiated,
	})
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	return &Peer{
		pc: pc,
		dc: dc,
		// Path discovery signals completion by closing this channel once
		// the local description is installed and gathering finishes.
		gatherDone: webrtc.GatheringCompletePromise(pc),
	}, nil
}

// Factory adapts New to the lobby's host factory signature.
func Factory() (lobby.Host, error) {
	return New()
}

func (p *Peer) CreateOffer(_ context.Context) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	return p.pc.SetLocalDescription(offer)
}

func (p *Peer) CreateAnswer(_ context.Context) error {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	return p.pc.SetLocalDescription(answer)
}

func (p *Peer) SetRemoteDescription(desc model.Description) error {
	var sdpType webrtc.SDPType
	switch desc.Type {
	case model.DescriptionTypeOffer:
		sdpType = webrtc.SDPTypeOffer
	case model.DescriptionTypeAnswer:
		sdpType = webrtc.SDPTypeAnswer
	case model.DescriptionTypePranswer:
		sdpType = webrtc.SDPTypePranswer
	case model.DescriptionTypeRollback:
		sdpType = webrtc.SDPTypeRollback
	default:
		return fmt.Errorf("unknown description type %q", desc.Type)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType,
		SDP:  desc.SDP,
	})
}

func (p *Peer) GatheringComplete() <-chan struct{} {
	return p.gatherDone
}

func (p *Peer) LocalDescription() (model.Description, bool) {
	ld := p.pc.LocalDescription()
	if ld == nil {
		return model.Description{}, false
	}
	return model.Description{Type: ld.Type.String(), SDP: ld.SDP}, true
}

func (p *Peer) Channel() lobby.Channel {
	return dataChannel{dc: p.dc}
}

func (p *Peer) Close() error {
	_ = p.dc.Close()
	return p.pc.Close()
}

// dataChannel adapts *webrtc.DataChannel to the lobby channel surface.
type dataChannel struct {
	dc *webrtc.DataChannel
}

func (d dataChannel) Send(b []byte) error { return d.dc.Send(b) }

func (d dataChannel) OnMessage(fn func([]byte)) {
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d dataChannel) OnOpen(fn func()) { d.dc.OnOpen(fn) }

func (d dataChannel) Close() error { return d.dc.Close() }
