package chat

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/Keyring-Network/keyring-helix/internal/intent"
	"github.com/Keyring-Network/keyring-helix/internal/llm"
)

func (p *Pipeline) imageTurn(ctx context.Context, req Request, decision intent.Decision, state *TurnState, logger *zap.Logger) *Turn {
	state.setActivity(ActivityGeneratingImages)

	genCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	turn := &Turn{
		Messages: req.History,
		Stream:   &turnStream{PipeReader: pr, cancel: cancel},
		Sources:  state.Sources(),
		Activity: state.Activity(),
		Decision: decision,
		state:    state,
	}

	go func() {
		defer cancel()
		images, err := p.deps.Images.GenerateImages(genCtx, decision.ImagePrompt)
		var output string
		if err == nil {
			output = RenderImages(images)
			_, err = io.WriteString(pw, output)
		}
		if err != nil {
			logger.Error("image generation failed", zap.Error(err))
		}
		state.finish(output, err)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return turn
}

// RenderImages writes images as Markdown data URI images.
func RenderImages(images []llm.Image) string {
	var b strings.Builder
	for i, image := range images {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "![Generated image %d](data:%s;base64,%s)", i+1, image.MIMEType, base64.StdEncoding.EncodeToString(image.Data))
	}
	return b.String()
}
