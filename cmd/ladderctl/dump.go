package main

import (
	"flag"
	"io"
	"os"
	"time"

	"ladder_bot/internal/models"
	"ladder_bot/internal/persistence"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type levelView struct {
	Index    int    `yaml:"index"`
	Trigger  string `yaml:"trigger"`
	Quantity string `yaml:"quantity"`
	OrderID  string `yaml:"order_id,omitempty"`
}

type monitorView struct {
	Key       string      `yaml:"key"`
	Phase     string      `yaml:"phase"`
	Position  string      `yaml:"position_size"`
	Remaining string      `yaml:"remaining_size"`
	Entry     string      `yaml:"entry_price"`
	Ratio     string      `yaml:"account_ratio,omitempty"`
	TPHits    int         `yaml:"tp_hits"`
	Ladder    []levelView `yaml:"tp_ladder,omitempty"`
	StopLoss  *levelView  `yaml:"stop_loss,omitempty"`
	Recovered bool        `yaml:"recovered,omitempty"`
	LastError string      `yaml:"last_error,omitempty"`
}

type dumpView struct {
	SavedAt  string        `yaml:"saved_at"`
	Monitors []monitorView `yaml:"monitors"`
	Rejected []string      `yaml:"rejected,omitempty"`
}

func viewOf(m *models.PositionMonitor) monitorView {
	v := monitorView{
		Key:       m.Key().String(),
		Phase:     string(m.Phase),
		Position:  m.PositionSize.String(),
		Remaining: m.RemainingSize.String(),
		Entry:     m.EntryPrice.String(),
		TPHits:    m.TPHits,
		Recovered: m.Recovered,
		LastError: m.LastError,
	}
	if m.Account == models.AccountMirror && !m.AccountRatio.IsZero() {
		v.Ratio = m.AccountRatio.String()
	}
	for _, tp := range m.TPLadder {
		v.Ladder = append(v.Ladder, levelView{
			Index:    tp.TPIndex,
			Trigger:  tp.TriggerPrice.String(),
			Quantity: tp.Quantity.String(),
			OrderID:  tp.OrderID,
		})
	}
	if m.SL != nil {
		v.StopLoss = &levelView{
			Trigger:  m.SL.TriggerPrice.String(),
			Quantity: m.SL.Quantity.String(),
			OrderID:  m.SL.OrderID,
		}
	}
	return v
}

// dump decodes a snapshot with the same rules the keeper applies on restore.
func dump(out io.Writer, data []byte) error {
	dec, err := persistence.Decode(data)
	if err != nil {
		return err
	}
	view := dumpView{Rejected: dec.Rejected}
	if !dec.SavedAt.IsZero() {
		view.SavedAt = dec.SavedAt.UTC().Format(time.RFC3339)
	}
	for _, m := range dec.Monitors {
		view.Monitors = append(view.Monitors, viewOf(m))
	}

	b, err := yaml.Marshal(view)
	if err != nil {
		return errors.Wrap(err, "marshal yaml")
	}
	_, err = out.Write(b)
	return err
}

func dumpCmd(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	path := fs.String("file", "data/monitors.json", "snapshot file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	data, err := os.ReadFile(*path)
	if err != nil {
		return errors.Wrap(err, "read snapshot")
	}
	return dump(out, data)
}
