package module

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/miekg/pkcs11"
	"go.uber.org/zap"

	"github.com/niclabs/p11nethsm/ckr"
	"github.com/niclabs/p11nethsm/config"
	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/nethsm"
	"github.com/niclabs/p11nethsm/objects"
)

// Version is a CK_VERSION.
type Version struct {
	Major, Minor uint8
}

// SlotInfo mirrors CK_SLOT_INFO.
type SlotInfo struct {
	Description     string
	ManufacturerID  string
	Flags           uint
	HardwareVersion Version
	FirmwareVersion Version
}

// TokenInfo mirrors CK_TOKEN_INFO.
type TokenInfo struct {
	Label              string
	ManufacturerID     string
	Model              string
	SerialNumber       string
	Flags              uint
	MaxSessionCount    uint
	SessionCount       uint
	MaxRwSessionCount  uint
	RwSessionCount     uint
	MaxPinLen          uint
	MinPinLen          uint
	TotalPublicMemory  uint
	FreePublicMemory   uint
	TotalPrivateMemory uint
	FreePrivateMemory  uint
	HardwareVersion    Version
	FirmwareVersion    Version
}

// Slot is one configured NetHSM instance. The token is the instance
// itself, so slot and token share this type.
type Slot struct {
	ID      uint
	Config  *config.SlotsConfig
	Login   *LoginCtx
	Catalog *Catalog

	app    *Application
	client *nethsm.Client
	log    *zap.SugaredLogger
}

// Present reports whether the token can be used. Sparse slots are always
// present; others must pass the health probe.
func (s *Slot) Present(ctx context.Context) bool {
	if s.Config.Sparse {
		return true
	}
	if err := s.client.Health(ctx); err != nil {
		s.log.Debugw("instance not ready", "error", err)
		return false
	}
	return true
}

// Info returns the slot description.
func (s *Slot) Info(ctx context.Context) SlotInfo {
	flags := uint(pkcs11.CKF_HW_SLOT | pkcs11.CKF_REMOVABLE_DEVICE)
	if s.Present(ctx) {
		flags |= pkcs11.CKF_TOKEN_PRESENT
	}
	description := s.Config.Description
	if description == "" {
		description = s.Config.URL
	}
	return SlotInfo{
		Description:     description,
		ManufacturerID:  s.app.Config.Criptoki.ManufacturerID,
		Flags:           flags,
		HardwareVersion: Version{Major: 1},
		FirmwareVersion: Version{Major: 1},
	}
}

// TokenInfo returns the token description. It fails when the token is
// not present.
func (s *Slot) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	if !s.Present(ctx) {
		return nil, ckr.New("Slot.TokenInfo", "instance not ready", ckr.TokenNotPresent)
	}
	conf := s.app.Config.Criptoki
	sessions, rw := s.app.Sessions.Count(s.ID)
	// zero is CK_EFFECTIVELY_INFINITE
	maxSessions := conf.MaxSessions
	serial := sha256.Sum256([]byte(s.Config.URL))
	return &TokenInfo{
		Label:          s.Config.Label,
		ManufacturerID: conf.ManufacturerID,
		Model:          conf.Model,
		SerialNumber:   hex.EncodeToString(serial[:8]),
		Flags: pkcs11.CKF_LOGIN_REQUIRED | pkcs11.CKF_USER_PIN_INITIALIZED |
			pkcs11.CKF_TOKEN_INITIALIZED | pkcs11.CKF_RNG,
		MaxSessionCount:    maxSessions,
		SessionCount:       uint(sessions),
		MaxRwSessionCount:  maxSessions,
		RwSessionCount:     uint(rw),
		MaxPinLen:          256,
		MinPinLen:          4,
		TotalPublicMemory:  objects.Unavailable,
		FreePublicMemory:   objects.Unavailable,
		TotalPrivateMemory: objects.Unavailable,
		FreePrivateMemory:  objects.Unavailable,
		HardwareVersion:    Version{Major: 1},
		FirmwareVersion:    Version{Major: conf.VersionMajor, Minor: conf.VersionMinor},
	}, nil
}

// Mechanisms lists the mechanisms of the token.
func (s *Slot) Mechanisms() []uint {
	return mechanism.List()
}

// MechanismInfo describes one mechanism of the token.
func (s *Slot) MechanismInfo(t uint) (*mechanism.Info, error) {
	return mechanism.GetInfo(t)
}

// Random reads n random bytes from the instance. It needs the operator.
func (s *Slot) Random(ctx context.Context, n int) ([]byte, error) {
	var data []byte
	err := s.Login.Run(ctx, Operator, func(ctx context.Context, client *nethsm.Client) error {
		var err error
		data, err = client.Random(ctx, n)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
