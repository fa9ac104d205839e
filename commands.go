package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/vidfed/domain"
	"github.com/deemkeen/vidfed/tasks"
)

const (
	colorGrey   = "241"
	colorGreen  = "42"
	colorYellow = "214"
	colorRed    = "196"
	colorPurple = "#7D56F4"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorPurple))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(colorGrey))
	statusStyle = map[domain.FollowingStatus]lipgloss.Style{
		domain.FollowingNone:      mutedStyle,
		domain.FollowingRequested: lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		domain.FollowingAccepted:  lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
		domain.FollowingRefused:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
	}
)

// drainLocal runs the tasks a command queued when no broker is configured:
// with an in-process queue nobody else would ever pick them up.
func drainLocal(ctx context.Context, rt *runtime) error {
	q, ok := rt.queue.(*tasks.MemoryQueue)
	if !ok {
		return nil
	}
	mux := tasks.NewMux()
	rt.fed.RegisterTasks(mux)
	for q.Len() > 0 {
		t, err := q.Dequeue(ctx)
		if err != nil {
			return err
		}
		if err := mux.Dispatch(ctx, t); err != nil {
			return fmt.Errorf("%s task: %w", t.Kind, err)
		}
	}
	return nil
}

func cmdFollow(ctx context.Context, rt *runtime, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: vidfed follow <instance-url>")
	}
	following, err := rt.fed.Follows.Follow(ctx, args[0])
	if err != nil {
		return err
	}
	if err := drainLocal(ctx, rt); err != nil {
		return err
	}

	following, err = rt.db.ReadFollowingById(ctx, following.Id)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", following.Object, statusStyle[following.Status].Render(following.Status.String()))
	return nil
}

func cmdIndex(ctx context.Context, rt *runtime, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: vidfed index <instance-url>")
	}
	res, err := rt.fed.Index(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s seen, %s upserted, %s skipped, %s pruned\n",
		headerStyle.Render(fmt.Sprint(res.Seen)),
		headerStyle.Render(fmt.Sprint(res.Upserted)),
		mutedStyle.Render(fmt.Sprint(res.Skipped)),
		headerStyle.Render(fmt.Sprint(len(res.Pruned))))
	for _, id := range res.Pruned {
		fmt.Println(mutedStyle.Render("  - " + id))
	}
	return nil
}

func cmdFollowings(ctx context.Context, rt *runtime) error {
	followings, err := rt.db.ReadFollowings(ctx)
	if err != nil {
		return err
	}
	if len(followings) == 0 {
		fmt.Println(mutedStyle.Render("Not following any instance."))
		return nil
	}

	width := 0
	for _, f := range followings {
		width = max(width, len(f.Object))
	}
	row := lipgloss.NewStyle().Width(width + 2)
	fmt.Println(headerStyle.Render(row.Render("INSTANCE") + "STATUS      VIDEOS  SINCE"))
	for _, f := range followings {
		n, err := rt.db.CountExternalVideosBySource(ctx, f.Id)
		if err != nil {
			return err
		}
		status := statusStyle[f.Status].Width(12).Render(f.Status.String())
		fmt.Println(row.Render(f.Object) + status + fmt.Sprintf("%-7d ", n) + mutedStyle.Render(f.CreatedAt.Format(time.DateOnly)))
	}
	return nil
}

// importedVideo is the JSON form accepted by "video import".
type importedVideo struct {
	Slug               string             `json:"slug"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	Owner              string             `json:"owner"`
	DateAdded          time.Time          `json:"date_added"`
	Duration           int                `json:"duration"`
	Viewcount          int                `json:"viewcount"`
	Thumbnail          domain.Image       `json:"thumbnail"`
	Tags               []string           `json:"tags"`
	Renditions         []domain.VideoFile `json:"renditions"`
	MainLang           string             `json:"main_lang"`
	Licence            string             `json:"licence"`
	IsRestricted       bool               `json:"is_restricted"`
	AllowDownloading   bool               `json:"allow_downloading"`
	DisableComment     bool               `json:"disable_comment"`
	EncodingInProgress bool               `json:"encoding_in_progress"`
	Channels           []string           `json:"channels"`
	Tracks             []domain.Track     `json:"tracks"`
	Chapters           []domain.Chapter   `json:"chapters"`
}

func (v *importedVideo) toDomain() *domain.Video {
	if v.DateAdded.IsZero() {
		v.DateAdded = time.Now().UTC()
	}
	return &domain.Video{
		Slug:               v.Slug,
		Title:              v.Title,
		Description:        v.Description,
		Owner:              v.Owner,
		DateAdded:          v.DateAdded,
		Duration:           v.Duration,
		Viewcount:          v.Viewcount,
		Thumbnail:          v.Thumbnail,
		Tags:               v.Tags,
		Renditions:         v.Renditions,
		MainLang:           v.MainLang,
		Licence:            v.Licence,
		IsRestricted:       v.IsRestricted,
		AllowDownloading:   v.AllowDownloading,
		DisableComment:     v.DisableComment,
		EncodingInProgress: v.EncodingInProgress,
		Channels:           v.Channels,
		Tracks:             v.Tracks,
		Chapters:           v.Chapters,
	}
}

func cmdVideo(ctx context.Context, rt *runtime, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: vidfed video import <file.json> | vidfed video delete <slug>")
	}
	switch args[0] {
	case "import":
		raw, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var videos []importedVideo
		if err := json.Unmarshal(raw, &videos); err != nil {
			return fmt.Errorf("parsing %s: %w", args[1], err)
		}
		for i := range videos {
			v := &videos[i]
			if strings.TrimSpace(v.Slug) == "" || v.Owner == "" {
				return fmt.Errorf("video %d: slug and owner are required", i)
			}
			if err := rt.db.SaveVideo(ctx, v.toDomain()); err != nil {
				return fmt.Errorf("saving %s: %w", v.Slug, err)
			}
		}
		fmt.Printf("Imported %d videos.\n", len(videos))
	case "delete":
		if err := rt.db.DeleteVideo(ctx, args[1]); err != nil {
			return err
		}
		fmt.Printf("Deleted %s.\n", args[1])
	default:
		return fmt.Errorf("unknown video command %q", args[0])
	}
	// changes reach followers through the broadcaster of the running server
	return nil
}

func cmdKeys(rt *runtime) error {
	fmt.Println(headerStyle.Render(rt.fed.Identity.KeyID))
	fmt.Print(rt.fed.Identity.PublicKeyPem)
	return nil
}
