package protocol

import (
	"bytes"
	"testing"
)

func TestBuildSACNPacket_FixedHeaderLayout(t *testing.T) {
	cid := [16]byte{0xAA, 0xBB}
	frame := DMXFrame{10, 20, 30}
	packet := BuildSACNPacket(cid, "ledshow", 5, 42, DefaultPriority, frame)

	if got, want := len(packet), rootLen+framingLen+dmpHeaderLen+1+len(frame); got != want {
		t.Fatalf("packet length = %d, want %d", got, want)
	}
	if !bytes.Equal(packet[4:16], []byte(acnPacketIdentifier)) {
		t.Fatalf("unexpected ACN packet identifier")
	}
	if !bytes.Equal(packet[22:38], cid[:]) {
		t.Fatalf("CID not placed at expected offset")
	}

	universeOff := rootLen + 75
	gotUniverse := uint16(packet[universeOff])<<8 | uint16(packet[universeOff+1])
	if gotUniverse != 5 {
		t.Fatalf("universe = %d, want 5", gotUniverse)
	}

	seqOff := rootLen + 73
	if packet[seqOff] != 42 {
		t.Fatalf("sequence = %d, want 42", packet[seqOff])
	}

	startCodeOff := rootLen + framingLen + dmpHeaderLen
	if packet[startCodeOff] != 0x00 {
		t.Fatalf("expected DMX start code 0x00, got %#x", packet[startCodeOff])
	}
	if !bytes.Equal(packet[startCodeOff+1:], frame) {
		t.Fatalf("channel data not appended after start code")
	}

	total := len(packet)
	rootFlagsLen := uint16(packet[16])<<8 | uint16(packet[17])
	if want := 0x7000 | uint16(total-16); rootFlagsLen != want {
		t.Fatalf("root flags&length = %#x, want %#x", rootFlagsLen, want)
	}
	framingOff := rootLen
	framingFlagsLen := uint16(packet[framingOff])<<8 | uint16(packet[framingOff+1])
	if want := 0x7000 | uint16(total-framingOff); framingFlagsLen != want {
		t.Fatalf("framing flags&length = %#x, want %#x", framingFlagsLen, want)
	}
	dmpOff := rootLen + framingLen
	dmpFlagsLen := uint16(packet[dmpOff])<<8 | uint16(packet[dmpOff+1])
	if want := 0x7000 | uint16(total-dmpOff); dmpFlagsLen != want {
		t.Fatalf("DMP flags&length = %#x, want %#x", dmpFlagsLen, want)
	}
}

func TestBuildSACNPacket_TruncatesOversizedFrame(t *testing.T) {
	big := make(DMXFrame, UniverseSize+10)
	packet := BuildSACNPacket([16]byte{}, "s", 1, 0, DefaultPriority, big)
	wantLen := rootLen + framingLen + dmpHeaderLen + 1 + UniverseSize
	if len(packet) != wantLen {
		t.Fatalf("packet length = %d, want %d (frame should be truncated to one universe)", len(packet), wantLen)
	}
}

func TestUniverseCount(t *testing.T) {
	cases := []struct {
		pixels int
		want   int
	}{
		{0, 1},
		{1, 1},
		{170, 1},   // 510 bytes
		{171, 2},   // 513 bytes
		{341, 2},   // 1023 bytes
		{342, 3},   // 1026 bytes
	}
	for _, c := range cases {
		if got := UniverseCount(c.pixels); got != c.want {
			t.Errorf("UniverseCount(%d) = %d, want %d", c.pixels, got, c.want)
		}
	}
}
