package ui

import (
	"fmt"
	"strings"

	"github.com/procurelabs/spachat/internal/domain"
)

func renderConversation(messages []domain.Message) string {
	var b strings.Builder

	userSt := userStyle()
	agentSt := agentStyle()
	systemSt := systemStyle()
	codeSt := codeStyle()
	imageSt := imageStyle()

	for _, msg := range messages {
		switch msg.Sender {
		case domain.SenderUser:
			b.WriteString(userSt.Render("You: "+msg.Text) + "\n\n")
		case domain.SenderAgent:
			text := msg.Text
			if msg.InProgress {
				text += " ▌"
			}
			b.WriteString(agentSt.Render("Agent: "+text) + "\n")
			if vis := msg.Visualization; vis != nil {
				b.WriteString(codeSt.Render(vis.Code) + "\n")
				if vis.ExecStatus != "" {
					b.WriteString(systemSt.Render("execution: "+vis.ExecStatus) + "\n")
				}
			}
			for _, img := range msg.Images {
				b.WriteString(imageSt.Render(img) + "\n")
			}
			b.WriteString("\n")
		case domain.SenderSystem:
			b.WriteString(systemSt.Render(msg.Text) + "\n\n")
		}
	}

	return b.String()
}

func renderFiles(files []domain.FileEntry, loading bool) string {
	var b strings.Builder
	b.WriteString(filesHeaderStyle().Render("Workspace files") + "\n")

	switch {
	case loading:
		b.WriteString(fileRowStyle().Render("loading...") + "\n")
	case len(files) == 0:
		b.WriteString(fileRowStyle().Render("no files") + "\n")
	default:
		rowSt := fileRowStyle()
		for _, f := range files {
			row := fmt.Sprintf("%-32s %10s  %s", f.Name, formatSize(f.Size), f.Modified.Format("2006-01-02 15:04"))
			b.WriteString(rowSt.Render(row) + "\n")
		}
	}
	return b.String()
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
