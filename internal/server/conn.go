package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"

	"github.com/nerrad567/gray-logic-hub/internal/imagestore"
	"github.com/nerrad567/gray-logic-hub/internal/protocol"
	"github.com/nerrad567/gray-logic-hub/internal/registry"
)

// session holds the identity a connection earns during authentication.
type session struct {
	userID    string
	composite string
}

// handle runs the full lifetime of one device connection: the three
// authentication stages, then the command loop. Any read or decode
// failure aborts this connection only.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	sess := &session{}

	// The device claim is connection-scoped: whatever happens after a
	// successful claim, the device goes offline when this handler returns.
	defer func() {
		if sess.composite != "" {
			s.reg.ReleaseDevice(sess.composite)
		}
	}()

	if err := s.credentialStage(conn, sess); err != nil {
		s.logger.Debug("credential stage aborted", "remote", remote, "error", err)
		return
	}
	if err := s.deviceStage(conn, sess); err != nil {
		s.logger.Debug("device stage aborted", "remote", remote, "error", err)
		return
	}
	if err := s.attestationStage(conn); err != nil {
		s.logger.Info("attestation rejected", "remote", remote, "user", sess.userID, "error", err)
		return
	}

	s.logger.Info("device online", "remote", remote, "device", sess.composite)
	s.notifyPresence(sess.composite, true)

	s.commandLoop(conn, sess)

	s.notifyPresence(sess.composite, false)
	s.logger.Info("device offline", "remote", remote, "device", sess.composite)
}

// notifyPresence reports an online transition to the telemetry fan-out.
// Best effort, like the per-reading broadcast.
func (s *Server) notifyPresence(composite string, online bool) {
	if s.telemetry == nil {
		return
	}
	if err := s.telemetry.Presence(context.Background(), composite, online); err != nil {
		s.logger.Warn("presence publish failed", "device", composite, "error", err)
	}
}

// credentialStage loops until the client authenticates. An unknown user
// is created with the supplied secret; a wrong secret answers
// wrong-credential and waits for the next attempt. The server never
// closes the connection for a bad secret.
func (s *Server) credentialStage(conn net.Conn, sess *session) error {
	for {
		msg, err := protocol.Read(conn)
		if err != nil {
			return err
		}

		created, err := s.reg.Authenticate(msg.User, msg.Secret)
		switch {
		case errors.Is(err, registry.ErrWrongSecret):
			if err := protocol.Write(conn, protocol.Response(protocol.CodeWrongCredential)); err != nil {
				return err
			}
		case err != nil:
			return err
		case created:
			sess.userID = msg.User
			return protocol.Write(conn, protocol.Response(protocol.CodeNewUserOK))
		default:
			sess.userID = msg.User
			return protocol.Write(conn, protocol.Response(protocol.CodeUserOK))
		}
	}
}

// deviceStage loops until the client claims a device id that is not
// already online. The claim is check-and-set inside the registry, so two
// racing connections cannot both win the same composite id.
func (s *Server) deviceStage(conn net.Conn, sess *session) error {
	for {
		msg, err := protocol.Read(conn)
		if err != nil {
			return err
		}

		composite, err := s.reg.ClaimDevice(sess.userID, msg.DeviceID)
		switch {
		case errors.Is(err, registry.ErrDeviceActive):
			if err := protocol.Write(conn, protocol.Response(protocol.CodeDeviceIDTaken)); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			sess.composite = composite
			return protocol.Write(conn, protocol.Response(protocol.CodeDeviceIDOK))
		}
	}
}

// attestationStage is single-shot: the declared executable name and size
// must exactly match the trusted reference or the connection terminates.
func (s *Server) attestationStage(conn net.Conn) error {
	msg, err := protocol.Read(conn)
	if err != nil {
		return err
	}

	if !s.attest.Matches(msg.Name, msg.Size) {
		protocol.Write(conn, protocol.Response(protocol.CodeAttestationFailed))
		return errors.New("server: attestation mismatch")
	}
	return protocol.Write(conn, protocol.Response(protocol.CodeAttestationOK))
}

// commandLoop reads one command per iteration and writes exactly one
// response, in order. Unknown commands answer with an error code without
// closing; EXIT and read failures end the loop.
func (s *Server) commandLoop(conn net.Conn, sess *session) {
	for {
		msg, err := protocol.Read(conn)
		if err != nil {
			return
		}

		var resp protocol.Message
		switch msg.Command {
		case protocol.CmdCreate:
			resp = s.handleCreate(sess, msg)
		case protocol.CmdAdd:
			resp = s.handleAdd(sess, msg)
		case protocol.CmdRD:
			resp = s.handleRD(sess, msg)
		case protocol.CmdET:
			resp = s.handleET(sess, msg)
		case protocol.CmdEI:
			resp = s.handleEI(sess, msg)
		case protocol.CmdRT:
			resp = s.handleRT(sess, msg)
		case protocol.CmdRI:
			resp = s.handleRI(sess, msg)
		case protocol.CmdRH:
			resp = s.handleRH(sess, msg)
		case protocol.CmdExit:
			s.reg.ReleaseDevice(sess.composite)
			protocol.Write(conn, protocol.Response(protocol.CodeOK))
			return
		default:
			resp = protocol.Response(protocol.CodeError)
		}

		if err := protocol.Write(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) handleCreate(sess *session, msg protocol.Message) protocol.Message {
	err := s.reg.CreateDomain(msg.Domain, sess.userID)
	switch {
	case errors.Is(err, registry.ErrDomainExists):
		return protocol.Response(protocol.CodeFailure)
	case err != nil:
		return protocol.Response(protocol.CodeFailure)
	}
	return protocol.Response(protocol.CodeOK)
}

func (s *Server) handleAdd(sess *session, msg protocol.Message) protocol.Message {
	err := s.reg.AddMember(msg.Domain, sess.userID, msg.User)
	switch {
	case errors.Is(err, registry.ErrDomainNotFound):
		return protocol.Response(protocol.CodeNoSuchDomain)
	case errors.Is(err, registry.ErrUserNotFound):
		return protocol.Response(protocol.CodeNoSuchUser)
	case errors.Is(err, registry.ErrNotPermitted):
		return protocol.Response(protocol.CodeNoPermission)
	case err != nil:
		return protocol.Response(protocol.CodeFailure)
	}
	return protocol.Response(protocol.CodeOK)
}

func (s *Server) handleRD(sess *session, msg protocol.Message) protocol.Message {
	err := s.reg.RegisterDevice(msg.Domain, sess.userID, sess.composite)
	switch {
	case errors.Is(err, registry.ErrDomainNotFound):
		return protocol.Response(protocol.CodeNoSuchDomain)
	case errors.Is(err, registry.ErrNotPermitted):
		return protocol.Response(protocol.CodeNoPermission)
	case err != nil:
		return protocol.Response(protocol.CodeFailure)
	}
	return protocol.Response(protocol.CodeOK)
}

func (s *Server) handleET(sess *session, msg protocol.Message) protocol.Message {
	value, err := strconv.ParseFloat(msg.Temperature, 64)
	if err != nil {
		return protocol.Response(protocol.CodeFailure)
	}
	if err := s.reg.SetTemperature(sess.composite, value); err != nil {
		return protocol.Response(protocol.CodeFailure)
	}

	// Fan-out is best effort; a sink outage never fails a valid report.
	if s.telemetry != nil {
		if err := s.telemetry.Record(context.Background(), sess.composite, value); err != nil {
			s.logger.Warn("telemetry record failed", "device", sess.composite, "error", err)
		}
	}
	return protocol.Response(protocol.CodeOK)
}

func (s *Server) handleEI(sess *session, msg protocol.Message) protocol.Message {
	err := s.images.Save(sess.composite, msg.Data)
	if err != nil {
		if !errors.Is(err, imagestore.ErrEmptyPayload) {
			s.logger.Error("image write failed", "device", sess.composite, "error", err)
		}
		return protocol.Response(protocol.CodeFailure)
	}
	return protocol.Response(protocol.CodeOK)
}

func (s *Server) handleRT(sess *session, msg protocol.Message) protocol.Message {
	temps, err := s.reg.Temperatures(msg.Domain, sess.userID)
	switch {
	case errors.Is(err, registry.ErrDomainNotFound):
		return protocol.Response(protocol.CodeNoSuchDomain)
	case errors.Is(err, registry.ErrNotPermitted):
		return protocol.Response(protocol.CodeNoPermission)
	case errors.Is(err, registry.ErrNoData):
		return protocol.Response(protocol.CodeNoData)
	case err != nil:
		return protocol.Response(protocol.CodeFailure)
	}

	data, err := json.Marshal(temps)
	if err != nil {
		return protocol.Response(protocol.CodeFailure)
	}
	return protocol.DataResponse(protocol.CodeOK, data)
}

func (s *Server) handleRI(sess *session, msg protocol.Message) protocol.Message {
	target := registry.DeviceID(msg.User, msg.DeviceID)

	// Authorization precedes existence: a caller who cannot see the
	// device must not learn whether an image is stored.
	err := s.reg.AuthorizeDeviceRead(sess.userID, target)
	switch {
	case errors.Is(err, registry.ErrDeviceNotFound):
		return protocol.Response(protocol.CodeNoSuchDevice)
	case errors.Is(err, registry.ErrNotPermitted):
		return protocol.Response(protocol.CodeNoPermission)
	case err != nil:
		return protocol.Response(protocol.CodeFailure)
	}

	data, err := s.images.Load(target)
	switch {
	case errors.Is(err, imagestore.ErrNoImage):
		return protocol.Response(protocol.CodeNoData)
	case err != nil:
		s.logger.Error("image read failed", "device", target, "error", err)
		return protocol.Response(protocol.CodeFailure)
	}
	return protocol.DataResponse(protocol.CodeOK, data)
}

func (s *Server) handleRH(sess *session, msg protocol.Message) protocol.Message {
	if s.readings == nil {
		return protocol.Response(protocol.CodeFailure)
	}

	target := registry.DeviceID(msg.User, msg.DeviceID)

	err := s.reg.AuthorizeDeviceRead(sess.userID, target)
	switch {
	case errors.Is(err, registry.ErrDeviceNotFound):
		return protocol.Response(protocol.CodeNoSuchDevice)
	case errors.Is(err, registry.ErrNotPermitted):
		return protocol.Response(protocol.CodeNoPermission)
	case err != nil:
		return protocol.Response(protocol.CodeFailure)
	}

	readings, err := s.readings.Recent(context.Background(), target, int(msg.Size))
	if err != nil {
		s.logger.Error("history read failed", "device", target, "error", err)
		return protocol.Response(protocol.CodeFailure)
	}
	if len(readings) == 0 {
		return protocol.Response(protocol.CodeNoData)
	}

	data, err := json.Marshal(readings)
	if err != nil {
		return protocol.Response(protocol.CodeFailure)
	}
	return protocol.DataResponse(protocol.CodeOK, data)
}
