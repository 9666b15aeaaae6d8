// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

package vendors

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"time"

	"github.com/tomtom215/clockbridge/internal/logging"
	"github.com/tomtom215/clockbridge/internal/models"
)

// zkAdapter speaks the ZKTeco binary TCP protocol. It holds one session per
// adapter instance; FetchEvents reads the device's full attendance buffer
// and filters by the time cursor, Capture registers for realtime pushes.
type zkAdapter struct {
	profile *models.DeviceProfile

	conn      net.Conn
	sessionID uint16
	replyID   uint16

	dialTimeout time.Duration
	readTimeout time.Duration
}

func newZKAdapter(profile *models.DeviceProfile) *zkAdapter {
	return &zkAdapter{
		profile:     profile,
		dialTimeout: 10 * time.Second,
		readTimeout: 10 * time.Second,
	}
}

func (a *zkAdapter) Kind() models.VendorKind { return models.VendorZK }

// Authenticate dials the device and performs the connect/auth handshake.
// Devices with a zero communication key accept the bare connect; otherwise
// the device answers unauthorized and the derived comm key is presented.
func (a *zkAdapter) Authenticate(ctx context.Context) (Credential, error) {
	if a.conn != nil {
		return Credential{SessionID: a.sessionID}, nil
	}

	dialer := net.Dialer{Timeout: a.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", a.profile.Addr())
	if err != nil {
		return Credential{}, classifyNetErr(models.VendorZK, "dial", err)
	}
	a.conn = conn
	a.sessionID = 0
	a.replyID = 0

	resp, err := a.roundTrip(ctx, zkCmdConnect, nil)
	if err != nil {
		a.close()
		return Credential{}, err
	}
	a.sessionID = resp.sessionID

	if resp.command == zkCmdAckUnauth {
		authResp, err := a.roundTrip(ctx, zkCmdAuth, zkCommKey(a.profile.CommKey, a.sessionID))
		if err != nil {
			a.close()
			return Credential{}, err
		}
		if authResp.command != zkCmdAckOK {
			a.close()
			return Credential{}, authErr(models.VendorZK, fmt.Sprint(authResp.command), "communication key rejected")
		}
	} else if resp.command != zkCmdAckOK {
		a.close()
		return Credential{}, protocolErr(models.VendorZK, fmt.Sprintf("connect answered command %d", resp.command), nil)
	}

	logging.Debug().Str("device", a.profile.ID).Uint16("session", a.sessionID).Msg("zk session established")
	return Credential{SessionID: a.sessionID}, nil
}

// FetchEvents downloads the attendance buffer and returns events strictly
// newer than the time cursor, with the cursor advanced to the newest event
// in the returned batch.
func (a *zkAdapter) FetchEvents(ctx context.Context, cursor models.VendorCursor) ([]models.RawEvent, models.VendorCursor, error) {
	if _, err := a.Authenticate(ctx); err != nil {
		return nil, cursor, err
	}

	// Keep the device's own matching engine quiet while the log transfers.
	if _, err := a.roundTrip(ctx, zkCmdDisable, []byte{0, 0}); err != nil {
		return nil, cursor, err
	}
	data, err := a.readAttLog(ctx)
	if _, enableErr := a.roundTrip(ctx, zkCmdEnable, nil); enableErr != nil {
		logging.Warn().Err(enableErr).Str("device", a.profile.ID).Msg("zk re-enable failed")
	}
	if err != nil {
		return nil, cursor, err
	}

	all, err := parseZKAttRecords(a.profile.ID, data)
	if err != nil {
		return nil, cursor, protocolErr(models.VendorZK, "attendance log", err)
	}

	since := cursor.LastFetch()
	events := make([]models.RawEvent, 0, len(all))
	newest := since
	for _, ev := range all {
		if !ev.Instant.After(since) {
			continue
		}
		events = append(events, ev)
		if ev.Instant.After(newest) {
			newest = ev.Instant
		}
	}
	if len(events) == 0 {
		return nil, cursor, nil
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Instant.Before(events[j].Instant) })
	return events, models.NewTimeCursor(newest), nil
}

// Capture registers for realtime attendance events and pushes each one to
// onEvent until ctx is canceled or the connection drops. Read deadlines are
// kept short so cancellation is honored within one deadline window even
// though the protocol has no cooperative cancel.
func (a *zkAdapter) Capture(ctx context.Context, onEvent func(models.RawEvent) error) error {
	if _, err := a.Authenticate(ctx); err != nil {
		return err
	}

	var flags [4]byte
	binary.LittleEndian.PutUint32(flags[:], zkEventAttLog)
	resp, err := a.roundTrip(ctx, zkCmdRegEvent, flags[:])
	if err != nil {
		return err
	}
	if resp.command != zkCmdAckOK {
		return protocolErr(models.VendorZK, fmt.Sprintf("event registration answered command %d", resp.command), nil)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			return classifyNetErr(models.VendorZK, "deadline", err)
		}
		pkt, err := decodeZKPacket(a.conn)
		if err != nil {
			if isDeadline(err) {
				continue
			}
			return classifyNetErr(models.VendorZK, "read event", err)
		}
		if pkt.command != zkCmdRegEvent {
			continue
		}

		ev, perr := parseZKLiveEvent(a.profile.ID, pkt.data)
		// Acknowledge before processing so the device keeps streaming
		// even when reconciliation is slow.
		a.ack(pkt.replyID)
		if perr != nil {
			logging.Warn().Err(perr).Str("device", a.profile.ID).Msg("zk live event discarded")
			continue
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
}

// Disconnect sends a best-effort exit and closes the socket.
func (a *zkAdapter) Disconnect() error {
	if a.conn == nil {
		return nil
	}
	frame := encodeZKPacket(zkPacket{command: zkCmdExit, sessionID: a.sessionID, replyID: a.nextReplyID()})
	_ = a.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, _ = a.conn.Write(frame)
	return a.close()
}

func (a *zkAdapter) close() error {
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	a.sessionID = 0
	return err
}

func (a *zkAdapter) nextReplyID() uint16 {
	a.replyID++
	return a.replyID
}

// ack answers a pushed event with CMD_ACK_OK.
func (a *zkAdapter) ack(replyID uint16) {
	frame := encodeZKPacket(zkPacket{command: zkCmdAckOK, sessionID: a.sessionID, replyID: replyID})
	_ = a.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, _ = a.conn.Write(frame)
}

// roundTrip sends one command and reads its reply.
func (a *zkAdapter) roundTrip(ctx context.Context, command uint16, data []byte) (zkPacket, error) {
	if a.conn == nil {
		return zkPacket{}, newError(KindTransient, models.VendorZK, "", "not connected", nil)
	}

	deadline := time.Now().Add(a.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := a.conn.SetDeadline(deadline); err != nil {
		return zkPacket{}, classifyNetErr(models.VendorZK, "deadline", err)
	}

	frame := encodeZKPacket(zkPacket{
		command:   command,
		sessionID: a.sessionID,
		replyID:   a.nextReplyID(),
		data:      data,
	})
	if _, err := a.conn.Write(frame); err != nil {
		return zkPacket{}, classifyNetErr(models.VendorZK, "write", err)
	}

	pkt, err := decodeZKPacket(a.conn)
	if err != nil {
		return zkPacket{}, classifyNetErr(models.VendorZK, "read", err)
	}
	if pkt.command == zkCmdAckError {
		return pkt, protocolErr(models.VendorZK, fmt.Sprintf("device rejected command %d", command), nil)
	}
	return pkt, nil
}

// readAttLog requests the attendance log. Small logs arrive inline in the
// acknowledgment; larger ones arrive as a PREPARE_DATA announcement followed
// by DATA chunks, terminated with FREE_DATA from our side.
func (a *zkAdapter) readAttLog(ctx context.Context) ([]byte, error) {
	resp, err := a.roundTrip(ctx, zkCmdAttLogRead, nil)
	if err != nil {
		return nil, err
	}

	switch resp.command {
	case zkCmdAckOK, zkCmdAckData:
		return resp.data, nil
	case zkCmdPrepareData:
		if len(resp.data) < 4 {
			return nil, protocolErr(models.VendorZK, "short prepare-data announcement", nil)
		}
		total := binary.LittleEndian.Uint32(resp.data[:4])
		if total > zkMaxFrame {
			return nil, protocolErr(models.VendorZK, fmt.Sprintf("implausible log size %d", total), nil)
		}
		buf := make([]byte, 0, total)
		for uint32(len(buf)) < total {
			if err := a.conn.SetReadDeadline(time.Now().Add(a.readTimeout)); err != nil {
				return nil, classifyNetErr(models.VendorZK, "deadline", err)
			}
			pkt, err := decodeZKPacket(a.conn)
			if err != nil {
				return nil, classifyNetErr(models.VendorZK, "read data chunk", err)
			}
			switch pkt.command {
			case zkCmdData:
				buf = append(buf, pkt.data...)
			case zkCmdAckOK:
				// Transfer-complete ack may precede the final byte count
				// on some firmware; accept what we have.
				if _, err := a.roundTrip(ctx, zkCmdFreeData, nil); err != nil {
					logging.Warn().Err(err).Str("device", a.profile.ID).Msg("zk free-data failed")
				}
				return buf, nil
			default:
				return nil, protocolErr(models.VendorZK, fmt.Sprintf("unexpected command %d during transfer", pkt.command), nil)
			}
		}
		if _, err := a.roundTrip(ctx, zkCmdFreeData, nil); err != nil {
			logging.Warn().Err(err).Str("device", a.profile.ID).Msg("zk free-data failed")
		}
		return buf, nil
	default:
		return nil, protocolErr(models.VendorZK, fmt.Sprintf("attendance read answered command %d", resp.command), nil)
	}
}

// isDeadline reports whether a read failed only because the deadline passed.
func isDeadline(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
