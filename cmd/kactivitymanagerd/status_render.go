package main

import (
	"io"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"kactivitymanagerd/internal/daemonctl"
)

func renderStatus(status daemonctl.StatusResult, colorize bool) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	state := "Service not running"
	stateColor := text.Colors{text.FgYellow}
	if status.Running {
		state = "Service running"
		stateColor = text.Colors{text.FgGreen}
	}
	if colorize {
		state = stateColor.Sprint(state)
	}

	tw.AppendRow(table.Row{"State", state})
	tw.AppendRow(table.Row{"Endpoint", status.Endpoint})
	if status.Running {
		tw.AppendRow(table.Row{"Version", status.Version})
		if status.PID > 0 {
			tw.AppendRow(table.Row{"PID", strconv.Itoa(status.PID)})
		}
	}
	tw.AppendRow(table.Row{"Socket", status.Socket})
	return tw.Render()
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
