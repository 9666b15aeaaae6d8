// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package vendors

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tomtom215/clockbridge/internal/models"
)

// ZK wire constants (classic ZKTeco TCP protocol). Every packet is an
// 8-byte command header (command, checksum, session id, reply id, all
// little-endian uint16) plus data, wrapped in a TCP frame of two magic
// words and a 4-byte payload length.
const (
	zkTCPMagic1 uint16 = 0x5050
	zkTCPMagic2 uint16 = 0x827d

	zkCmdConnect     uint16 = 1000
	zkCmdExit        uint16 = 1001
	zkCmdEnable      uint16 = 1002
	zkCmdDisable     uint16 = 1003
	zkCmdAuth        uint16 = 1102
	zkCmdPrepareData uint16 = 1500
	zkCmdData        uint16 = 1501
	zkCmdFreeData    uint16 = 1502
	zkCmdAckOK       uint16 = 2000
	zkCmdAckError    uint16 = 2001
	zkCmdAckData     uint16 = 2002
	zkCmdAckUnauth   uint16 = 2005
	zkCmdAttLogRead  uint16 = 13
	zkCmdRegEvent    uint16 = 500

	// zkEventAttLog is the realtime-event flag for attendance punches.
	zkEventAttLog uint32 = 1

	// zkAttRecordSize is the on-wire size of one attendance record.
	zkAttRecordSize = 40

	zkMaxFrame = 16 * 1024 * 1024
)

// zkPacket is one decoded command packet.
type zkPacket struct {
	command   uint16
	sessionID uint16
	replyID   uint16
	data      []byte
}

// zkChecksum computes the 16-bit ones'-complement sum the protocol uses,
// over the packet with the checksum field zeroed.
func zkChecksum(p []byte) uint16 {
	var sum uint32
	i := 0
	for ; i+1 < len(p); i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(p[i : i+2]))
		if sum > 0xffff {
			sum -= 0xffff
		}
	}
	if i < len(p) {
		sum += uint32(p[len(p)-1])
	}
	for sum > 0xffff {
		sum -= 0xffff
	}
	sum = ^sum & 0xffff
	return uint16(sum)
}

// encodeZKPacket serializes a packet into a TCP frame.
func encodeZKPacket(p zkPacket) []byte {
	payload := make([]byte, 8+len(p.data))
	binary.LittleEndian.PutUint16(payload[0:2], p.command)
	// checksum filled below
	binary.LittleEndian.PutUint16(payload[4:6], p.sessionID)
	binary.LittleEndian.PutUint16(payload[6:8], p.replyID)
	copy(payload[8:], p.data)
	binary.LittleEndian.PutUint16(payload[2:4], zkChecksum(payload))

	frame := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], zkTCPMagic1)
	binary.LittleEndian.PutUint16(frame[2:4], zkTCPMagic2)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame
}

// decodeZKPacket reads one framed packet off the wire.
func decodeZKPacket(r io.Reader) (zkPacket, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return zkPacket{}, err
	}
	if binary.LittleEndian.Uint16(hdr[0:2]) != zkTCPMagic1 ||
		binary.LittleEndian.Uint16(hdr[2:4]) != zkTCPMagic2 {
		return zkPacket{}, fmt.Errorf("zk: bad frame magic %x", hdr[:4])
	}
	size := binary.LittleEndian.Uint32(hdr[4:8])
	if size < 8 || size > zkMaxFrame {
		return zkPacket{}, fmt.Errorf("zk: implausible frame size %d", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return zkPacket{}, err
	}
	return zkPacket{
		command:   binary.LittleEndian.Uint16(payload[0:2]),
		sessionID: binary.LittleEndian.Uint16(payload[4:6]),
		replyID:   binary.LittleEndian.Uint16(payload[6:8]),
		data:      payload[8:],
	}, nil
}

// zkCommKey derives the 4-byte auth blob from the numeric communication key
// and the session id: bit-reverse the key, add the session id, XOR with the
// "ZKSO" pattern, swap the halves, then XOR three of the four bytes with the
// ticks constant (0x32).
func zkCommKey(key int, sessionID uint16) []byte {
	const ticks = 50

	var reversed uint32
	k := uint32(key)
	for i := 0; i < 32; i++ {
		reversed <<= 1
		if k&(1<<i) != 0 {
			reversed |= 1
		}
	}
	reversed += uint32(sessionID)

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], reversed)
	buf[0] ^= 'Z'
	buf[1] ^= 'K'
	buf[2] ^= 'S'
	buf[3] ^= 'O'

	h1 := binary.LittleEndian.Uint16(buf[0:2])
	h2 := binary.LittleEndian.Uint16(buf[2:4])
	binary.LittleEndian.PutUint16(buf[0:2], h2)
	binary.LittleEndian.PutUint16(buf[2:4], h1)

	b := byte(ticks & 0xff)
	buf[0] ^= b
	buf[1] ^= b
	buf[2] = b
	buf[3] ^= b
	return buf[:]
}

// decodeZKTime unpacks the packed uint32 timestamp the device stores
// attendance records with. The encoding counts seconds within a calendar
// laid out as fixed 31-day months from 2000-01-01.
func decodeZKTime(t uint32) time.Time {
	sec := int(t % 60)
	t /= 60
	minute := int(t % 60)
	t /= 60
	hour := int(t % 24)
	t /= 24
	day := int(t%31) + 1
	t /= 31
	month := time.Month(t%12 + 1)
	t /= 12
	year := int(t) + 2000
	return time.Date(year, month, day, hour, minute, sec, 0, time.Local)
}

// decodeZKTimeHex unpacks the 6-byte realtime-event timestamp
// (year-2000, month, day, hour, minute, second).
func decodeZKTimeHex(b []byte) (time.Time, error) {
	if len(b) < 6 {
		return time.Time{}, fmt.Errorf("zk: short timehex %d", len(b))
	}
	return time.Date(2000+int(b[0]), time.Month(b[1]), int(b[2]),
		int(b[3]), int(b[4]), int(b[5]), 0, time.Local), nil
}

// zkCString trims a NUL-padded fixed-width string field.
func zkCString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}

// parseZKAttRecords decodes the attendance log buffer into raw events.
// Each record is 40 bytes: uid(2), user id(24, NUL-padded), status(1),
// packed timestamp(4), punch(1), reserved(8). The device always returns
// its full buffer; the adapter filters by cursor afterward.
func parseZKAttRecords(deviceID string, data []byte) ([]models.RawEvent, error) {
	if len(data)%zkAttRecordSize != 0 {
		return nil, fmt.Errorf("zk: attendance buffer size %d not a multiple of %d", len(data), zkAttRecordSize)
	}
	events := make([]models.RawEvent, 0, len(data)/zkAttRecordSize)
	for off := 0; off < len(data); off += zkAttRecordSize {
		rec := data[off : off+zkAttRecordSize]
		userID := zkCString(rec[2:26])
		if userID == "" {
			continue
		}
		status := int(rec[26])
		instant := decodeZKTime(binary.LittleEndian.Uint32(rec[27:31]))
		code := status
		events = append(events, models.RawEvent{
			DeviceID:     deviceID,
			DeviceUserID: userID,
			Instant:      instant,
			VendorCode:   &code,
		})
	}
	return events, nil
}

// parseZKLiveEvent decodes one pushed realtime attendance event. Firmware
// sends either the short (32-byte) or padded (36-byte) layout: user id(24),
// status(1), punch(1), timehex(6).
func parseZKLiveEvent(deviceID string, data []byte) (models.RawEvent, error) {
	if len(data) != 32 && len(data) != 36 {
		return models.RawEvent{}, fmt.Errorf("zk: unexpected live event size %d", len(data))
	}
	userID := zkCString(data[0:24])
	status := int(data[24])
	instant, err := decodeZKTimeHex(data[26:32])
	if err != nil {
		return models.RawEvent{}, err
	}
	code := status
	return models.RawEvent{
		DeviceID:     deviceID,
		DeviceUserID: userID,
		Instant:      instant,
		VendorCode:   &code,
	}, nil
}
