package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"podpdf/internal/util"
	"podpdf/pkg/domain"
	"podpdf/pkg/podcast"
	"podpdf/pkg/wav"
	"podpdf/services/podcast/internal/app"
	"podpdf/services/podcast/internal/config"
	"podpdf/services/podcast/internal/providers"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// setup loads config and builds an orchestrator. The returned func releases it.
func (o *rootOptions) setup(service string) (*podcast.Orchestrator, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger := util.InitLogger(level, service)
	return providers.Orchestrator(cfg, logger)
}

func newVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List voices and emotions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Voices:")
			for _, v := range domain.Voices {
				fmt.Fprintf(out, "  %s\n", v)
			}
			fmt.Fprintln(out, "Emotions:")
			for _, e := range domain.Emotions {
				directive := strings.TrimSuffix(podcast.SpeechText("", e), ": ")
				if directive == "" {
					directive = "(content read verbatim)"
				}
				fmt.Fprintf(out, "  %-9s %s\n", e, directive)
			}
			return nil
		},
	}
}

func newScriptCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "script FILE",
		Short: "Generate and print the chapter script of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, release, err := opts.setup("podpdf")
			if err != nil {
				return err
			}
			defer release()
			script, err := generateScript(cmd, orch, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(script)
			}
			printScript(cmd.OutOrStdout(), script)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the script as JSON")
	return cmd
}

type renderOptions struct {
	outDir   string
	voice    string
	emotion  string
	chapters []int
	parallel int

	voiceID   domain.Voice
	emotionID domain.Emotion
}

func newRenderCmd(opts *rootOptions) *cobra.Command {
	ro := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render FILE",
		Short: "Generate a script and write every chapter as a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			voice, ok := domain.ParseVoice(ro.voice)
			if !ok {
				return fmt.Errorf("unknown voice %q", ro.voice)
			}
			emotion, ok := domain.ParseEmotion(ro.emotion)
			if !ok {
				return fmt.Errorf("unknown emotion %q", ro.emotion)
			}
			orch, release, err := opts.setup("podpdf")
			if err != nil {
				return err
			}
			defer release()

			script, err := generateScript(cmd, orch, args[0])
			if err != nil {
				return err
			}
			ro.voiceID, ro.emotionID = voice, emotion
			return renderScript(cmd, orch, script, ro)
		},
	}
	cmd.Flags().StringVarP(&ro.outDir, "out", "o", ".", "output directory")
	cmd.Flags().StringVar(&ro.voice, "voice", string(domain.DefaultVoice), "speech voice")
	cmd.Flags().StringVar(&ro.emotion, "emotion", string(domain.DefaultEmotion), "delivery emotion")
	cmd.Flags().IntSliceVar(&ro.chapters, "chapters", nil, "1-based chapter numbers to render (default all)")
	cmd.Flags().IntVar(&ro.parallel, "parallel", 2, "concurrent speech requests")
	return cmd
}

func generateScript(cmd *cobra.Command, orch *podcast.Orchestrator, path string) (domain.PodcastScript, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.PodcastScript{}, err
	}
	defer f.Close()
	text, err := app.ExtractText(cmd.Context(), filepath.Base(path), f)
	if err != nil {
		return domain.PodcastScript{}, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "extracted %s characters from %s\n", humanize.Comma(int64(len([]rune(text)))), filepath.Base(path))
	return orch.GenerateScript(cmd.Context(), text)
}

// renderScript writes the selected chapters of script as WAV files. Every run
// gets its own document id, so cached audio of an earlier script for the same
// file is never reused.
func renderScript(cmd *cobra.Command, orch *podcast.Orchestrator, script domain.PodcastScript, ro *renderOptions) error {
	indexes, err := selectChapters(len(script.Chapters), ro.chapters)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(ro.outDir, 0o755); err != nil {
		return err
	}

	docID := uuid.NewString()
	reqs := make([]podcast.AudioRequest, 0, len(indexes))
	for _, i := range indexes {
		reqs = append(reqs, podcast.AudioRequest{
			Key:     podcast.CacheKey{DocumentID: docID, Chapter: i, Voice: ro.voiceID, Emotion: ro.emotionID},
			Content: script.Chapters[i].Content,
		})
	}
	defer func() {
		if err := orch.DropDocument(context.WithoutCancel(cmd.Context()), docID); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "drop cached audio: %v\n", err)
		}
	}()
	if err := orch.Prefetch(cmd.Context(), reqs, ro.parallel); err != nil {
		return err
	}
	for _, req := range reqs {
		if err := writeChapter(cmd, orch, ro.outDir, script.Chapters[req.Key.Chapter], req); err != nil {
			return err
		}
	}
	return nil
}

// selectChapters converts 1-based chapter numbers to indexes; none means all.
func selectChapters(total int, numbers []int) ([]int, error) {
	if len(numbers) == 0 {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	out := make([]int, 0, len(numbers))
	seen := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		if n < 1 || n > total {
			return nil, fmt.Errorf("chapter %d out of range 1-%d", n, total)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n-1)
		}
	}
	return out, nil
}

func writeChapter(cmd *cobra.Command, orch *podcast.Orchestrator, dir string, ch domain.Chapter, req podcast.AudioRequest) error {
	src, err := orch.FetchAudio(cmd.Context(), req.Key, req.Content)
	if err != nil {
		return err
	}
	data, err := wav.ParseDataURI(src)
	if err != nil {
		return err
	}
	format, pcm, err := wav.Decode(data)
	if err != nil {
		return err
	}
	name := chapterFileName(req.Key)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%.1fs\t%s\n", name, humanize.Bytes(uint64(len(data))), format.Duration(len(pcm)), ch.Title)
	return nil
}

func chapterFileName(key podcast.CacheKey) string {
	return fmt.Sprintf("chapter-%02d-%s-%s.wav", key.Chapter+1, key.Voice, key.Emotion)
}

func printScript(w io.Writer, script domain.PodcastScript) {
	fmt.Fprintf(w, "%s\n\n%s\n\n", script.Title, script.Summary)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tLENGTH\tSUMMARY")
	for i, ch := range script.Chapters {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, ch.Title, ch.DurationEstimate, ch.Summary)
	}
	_ = tw.Flush()
}
