package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/miekg/pkcs11"
	"github.com/spf13/cobra"

	"github.com/niclabs/p11nethsm/mechanism"
	"github.com/niclabs/p11nethsm/module"
	"github.com/niclabs/p11nethsm/objects"
)

type signFlags struct {
	key       string
	mechanism string
	in        string
	out       string
	pin       string
}

func (t *tool) signCmd() *cobra.Command {
	var f signFlags
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign data with a key of the slot",
		Long: `Sign reads the data from --in ("-" for stdin) and signs it with the
private key whose id is --key. The signature is written to --out, or printed
in hex. Mechanisms use their PKCS#11 names without the CKM_ prefix, for
example ECDSA-SHA256 or SHA256-RSA-PKCS-PSS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mechType, ok := mechanismNames[strings.ToUpper(f.mechanism)]
			if !ok {
				return fmt.Errorf("unknown mechanism %q", f.mechanism)
			}
			data, err := readInput(cmd.InOrStdin(), f.in)
			if err != nil {
				return err
			}
			signature, err := t.sign(f, &mechanism.Mechanism{Type: mechType}, data)
			if err != nil {
				return err
			}
			if f.out != "" {
				return os.WriteFile(f.out, signature, 0o644)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(signature))
			return err
		},
	}
	cmd.Flags().StringVarP(&f.key, "key", "k", "", "key id")
	cmd.Flags().StringVarP(&f.mechanism, "mechanism", "m", "ECDSA-SHA256", "signing mechanism")
	cmd.Flags().StringVarP(&f.in, "in", "i", "-", "file to sign")
	cmd.Flags().StringVar(&f.out, "out", "", "signature file")
	cmd.Flags().StringVarP(&f.pin, "pin", "p", "", "operator password (default: configured)")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func (t *tool) sign(f signFlags, mech *mechanism.Mechanism, data []byte) ([]byte, error) {
	ctx := t.app.Context()
	slot, err := t.app.Slot(t.slot)
	if err != nil {
		return nil, err
	}
	if !slot.Login.CanRun(module.Operator) {
		if err := slot.Login.Login(ctx, module.Operator, f.pin); err != nil {
			return nil, err
		}
	}
	filter := objects.Attributes{}
	filter.Set(pkcs11.CKA_ID, []byte(f.key))
	filter.SetULong(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY)

	var signature []byte
	err = t.session(func(s *module.Session) error {
		if err := s.FindInit(ctx, filter); err != nil {
			return err
		}
		handles, err := s.FindNext(2)
		s.FindFinal()
		if err != nil {
			return err
		}
		if len(handles) != 1 {
			return fmt.Errorf("private key %q not found", f.key)
		}
		if err := s.SignInit(ctx, mech, handles[0]); err != nil {
			return err
		}
		signature, err = s.Sign(ctx, data)
		return err
	})
	return signature, err
}
