package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/ayusman/echosight/internal/config"
	"github.com/ayusman/echosight/internal/store"
)

// openStore opens the calibration store named by --db or the config file.
func openStore(c *cli.Context) (*store.Store, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	path, err := storePath(c.String(flagDB), cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return store.New(path)
}

func calibrateSetAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: calibrate set <label> <meters>")
	}
	label := c.Args().Get(0)
	meters, err := strconv.ParseFloat(c.Args().Get(1), 64)
	if err != nil {
		return fmt.Errorf("invalid width %q: %w", c.Args().Get(1), err)
	}

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Calibration().Set(label, meters); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s = %.3f m\n", label, meters)
	return nil
}

func calibrateListAction(c *cli.Context) error {
	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	widths, err := st.Calibration().List()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tWIDTH (m)\tUPDATED")
	for _, rw := range widths {
		fmt.Fprintf(w, "%s\t%.3f\t%s\n", rw.Label, rw.Meters, rw.UpdatedAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	focal, err := st.Settings().FocalLength()
	switch {
	case err == nil:
		fmt.Fprintf(c.App.Writer, "focal length: %.1f px\n", focal)
	case errors.Is(err, store.ErrNotFound):
		fmt.Fprintln(c.App.Writer, "focal length: not calibrated")
	default:
		return err
	}
	return nil
}

func calibrateDeleteAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: calibrate delete <label>")
	}

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	label := c.Args().First()
	if err := st.Calibration().Delete(label); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no width calibrated for %q", label)
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted %s\n", label)
	return nil
}

func calibrateFocalAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: calibrate focal <pixels>")
	}
	pixels, err := strconv.ParseFloat(c.Args().First(), 64)
	if err != nil {
		return fmt.Errorf("invalid focal length %q: %w", c.Args().First(), err)
	}

	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Settings().SetFocalLength(pixels); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "focal length = %.1f px\n", pixels)
	return nil
}
