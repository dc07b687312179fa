package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"

	"course-portal-go/internal/app"
	"course-portal-go/pkg/portal"
	"course-portal-go/pkg/services"
	"course-portal-go/pkg/tree"
	"course-portal-go/pkg/types"
)

type command struct {
	app *app.App
	out io.Writer
}

func (c *command) course(ctx context.Context, id string) (*portal.Course, error) {
	if id == "" {
		return nil, errors.New("-course is required")
	}
	bb, err := c.app.Login(ctx)
	if err != nil {
		return nil, err
	}
	return bb.Course(ctx, id)
}

func (c *command) courses(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("courses", flag.ContinueOnError)
	all := fs.Bool("all", false, "include past semesters")
	if err := fs.Parse(args); err != nil {
		return err
	}

	bb, err := c.app.Login(ctx)
	if err != nil {
		return err
	}
	handles, err := bb.Courses(ctx, !*all)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCURRENT")
	for _, h := range handles {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", h.Meta.ID, h.Title(), h.Meta.IsCurrent)
	}
	return tw.Flush()
}

func (c *command) tree(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	courseID := fs.String("course", "", "course id")
	kindName := fs.String("kind", "", "list only items of this kind (document, assignment, folder, video, announcement)")
	title := fs.String("title", "", "list only nodes whose title contains this")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var kind types.ContentKind
	if *kindName != "" {
		k, ok := types.ParseContentKind(*kindName)
		if !ok {
			return fmt.Errorf("unknown kind %q", *kindName)
		}
		kind = k
	}

	course, err := c.course(ctx, *courseID)
	if err != nil {
		return err
	}
	root, err := course.Tree(ctx)
	if err != nil {
		return err
	}

	var nodes []*tree.Node
	switch {
	case *kindName != "":
		nodes = root.FindByKind(kind)
	case *title != "":
		nodes = root.FindByTitle(*title)
	default:
		return root.Print(c.out)
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tTITLE")
	for _, n := range nodes {
		label := string(n.Kind)
		if n.Record != nil {
			label = n.Record.Kind.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", n.ID, label, n.Title)
	}
	return tw.Flush()
}

func (c *command) videos(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("videos", flag.ContinueOnError)
	courseID := fs.String("course", "", "course id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	course, err := c.course(ctx, *courseID)
	if err != nil {
		return err
	}
	handles, err := course.Videos(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTITLE\tTIME\tTEACHER")
	for i, v := range handles {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, v.Meta.Title, v.Meta.Time, v.Meta.Teacher)
	}
	return tw.Flush()
}

func (c *command) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	courseID := fs.String("course", "", "course id")
	index := fs.Int("video", -1, "video index as listed by the videos command")
	out := fs.String("out", "", "output file (default under the download directory)")
	mp4 := fs.Bool("mp4", false, "remux to mp4 with ffmpeg")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *courseID == "" || *index < 0 {
		return errors.New("-course and -video are required")
	}

	downloads := c.app.Ctx.Downloads
	if downloads == nil {
		return errors.New("download manager is unavailable")
	}
	bb, err := c.app.Login(ctx)
	if err != nil {
		return err
	}
	handle, err := bb.VideoAt(ctx, *courseID, *index)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	job, err := downloads.Start(services.DownloadRequest{
		CourseID:   *courseID,
		VideoID:    handle.ID(),
		CourseName: handle.Course.Name(),
		Title:      handle.Meta.Title,
		Output:     *out,
		MP4:        *mp4,
		OnProgress: func(done, total int) {
			if bar == nil {
				bar = progressbar.Default(int64(total), handle.Meta.Title)
			}
			bar.Set(done)
		},
	}, func(ctx context.Context) (services.SegmentSource, error) {
		v, err := handle.Get(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return err
	}

	job, err = downloads.Wait(ctx, job.ID)
	if err != nil {
		return err
	}
	if job.Status != types.DownloadStatusCompleted {
		return fmt.Errorf("download %s failed: %s", job.ID, job.Error)
	}
	fmt.Fprintf(c.out, "\nsaved %s (%d bytes)\n", job.FilePath, job.FileSize)
	return nil
}

func (c *command) submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	courseID := fs.String("course", "", "course id")
	title := fs.String("assignment", "", "assignment title (substring match)")
	file := fs.String("file", "", "file to upload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *title == "" || *file == "" {
		return errors.New("-assignment and -file are required")
	}

	course, err := c.course(ctx, *courseID)
	if err != nil {
		return err
	}
	handles, err := course.Assignments(ctx)
	if err != nil {
		return err
	}
	target, err := findOne(handles, "assignment", *title)
	if err != nil {
		return err
	}

	if err := target.Submit(ctx, *file); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "submitted %s to %s\n", *file, target.Title())
	return nil
}

// findOne returns the single item whose title contains query.
func findOne[T interface{ Title() string }](items []T, what, query string) (T, error) {
	var zero T
	matches := portal.FindByTitle(items, query)
	switch len(matches) {
	case 0:
		return zero, fmt.Errorf("%s %q: %w", what, query, types.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return zero, fmt.Errorf("%s %q is ambiguous: %d matches", what, query, len(matches))
	}
}

func (c *command) assignments(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("assignments", flag.ContinueOnError)
	courseID := fs.String("course", "", "course id")
	pending := fs.Bool("pending", false, "only assignments without a submission")
	if err := fs.Parse(args); err != nil {
		return err
	}

	course, err := c.course(ctx, *courseID)
	if err != nil {
		return err
	}
	handles, err := course.Assignments(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tDEADLINE\tSUBMITTED")
	for _, h := range handles {
		a, err := h.Get(ctx)
		if err != nil {
			return err
		}
		if *pending && a.Submitted() {
			continue
		}
		deadline := "-"
		if d, ok := a.Deadline(); ok {
			deadline = d.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", h.Record.ID, h.Title(), deadline, a.Submitted())
	}
	return tw.Flush()
}

func (c *command) announcements(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("announcements", flag.ContinueOnError)
	courseID := fs.String("course", "", "course id")
	show := fs.String("show", "", "print the announcement whose title contains this")
	if err := fs.Parse(args); err != nil {
		return err
	}

	course, err := c.course(ctx, *courseID)
	if err != nil {
		return err
	}
	handles, err := course.Announcements(ctx)
	if err != nil {
		return err
	}

	if *show != "" {
		h, err := findOne(handles, "announcement", *show)
		if err != nil {
			return err
		}
		a, err := h.Get(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s\n%s\n\n%s\n", a.Meta.Title, a.Meta.Time, a.Text)
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTIME")
	for _, h := range handles {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", h.Meta.ID, h.Title(), h.Meta.Time)
	}
	return tw.Flush()
}

func (c *command) attachments(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("attachments", flag.ContinueOnError)
	courseID := fs.String("course", "", "course id")
	doc := fs.String("doc", "", "document title (substring match)")
	assignment := fs.String("assignment", "", "assignment title (substring match)")
	out := fs.String("out", "", "output directory (default under the download directory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*doc == "") == (*assignment == "") {
		return errors.New("exactly one of -doc and -assignment is required")
	}

	course, err := c.course(ctx, *courseID)
	if err != nil {
		return err
	}

	var item interface {
		Title() string
		DownloadAttachments(ctx context.Context, dir string) ([]string, error)
	}
	if *doc != "" {
		docs, err := course.Documents(ctx)
		if err != nil {
			return err
		}
		if item, err = findOne(docs, "document", *doc); err != nil {
			return err
		}
	} else {
		handles, err := course.Assignments(ctx)
		if err != nil {
			return err
		}
		if item, err = findOne(handles, "assignment", *assignment); err != nil {
			return err
		}
	}

	dir := *out
	if dir == "" {
		if c.app.Ctx.Downloads == nil {
			return errors.New("-out is required when the download directory is unavailable")
		}
		dir = c.app.Ctx.Downloads.ContentDir(course.Meta.Name(), item.Title())
	}
	files, err := item.DownloadAttachments(ctx, dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintf(c.out, "%s has no attachments\n", item.Title())
		return nil
	}
	for _, f := range files {
		fmt.Fprintf(c.out, "saved %s\n", f)
	}
	return nil
}
