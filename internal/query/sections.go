package query

import (
	"context"

	"kernscope/internal/errors"
	"kernscope/internal/snapshot"
)

// GetMemorySectionOptions selects the section containing Address, or all
// sections when Address is empty.
type GetMemorySectionOptions struct {
	Address string `json:"address,omitempty"`
}

// SectionInfo describes one memory block.
type SectionInfo struct {
	Name        string           `json:"name"`
	Space       string           `json:"space,omitempty"`
	Start       snapshot.Address `json:"start"`
	End         snapshot.Address `json:"end"`
	Size        int64            `json:"size"`
	Permissions string           `json:"permissions"`
	Initialized bool             `json:"initialized"`
	Type        string           `json:"type,omitempty"`
	Comment     string           `json:"comment,omitempty"`
}

// GetMemorySectionResponse lists the selected sections by start address.
type GetMemorySectionResponse struct {
	Sections []SectionInfo `json:"sections"`
}

// GetMemorySection looks up memory blocks.
func (e *Engine) GetMemorySection(ctx context.Context, opts GetMemorySectionOptions) (*GetMemorySectionResponse, error) {
	return withObserve(e, ctx, OpGetMemorySection, func(ctx context.Context) (*GetMemorySectionResponse, error) {
		resp := &GetMemorySectionResponse{Sections: []SectionInfo{}}
		if opts.Address == "" {
			for _, sec := range e.snap.Sections() {
				resp.Sections = append(resp.Sections, sectionInfo(sec))
			}
			return resp, nil
		}
		a, err := parseAddress("address", opts.Address)
		if err != nil {
			return nil, err
		}
		sec, ok := e.snap.SectionContaining(a)
		if !ok {
			return nil, errors.Newf(errors.NotFound, "no section contains %s", a).
				WithDrilldowns(errors.Drilldown{Label: "List all sections", Query: "section"})
		}
		resp.Sections = append(resp.Sections, sectionInfo(sec))
		return resp, nil
	})
}

func sectionInfo(sec snapshot.Section) SectionInfo {
	return SectionInfo{
		Name:        sec.Name,
		Space:       sec.Space,
		Start:       sec.Start,
		End:         sec.End,
		Size:        sec.Size,
		Permissions: sec.Permissions.String(),
		Initialized: sec.Initialized,
		Type:        sec.Type,
		Comment:     sec.Comment,
	}
}

// ListFilesOptions pages the snapshot file listing.
type ListFilesOptions struct {
	Page
}

// FileEntry is one snapshot file. Missing optional files are listed with
// Present unset.
type FileEntry struct {
	Name    string `json:"name"`
	Stored  string `json:"stored,omitempty"`
	Size    int64  `json:"size"`
	Present bool   `json:"present"`
}

// ListFilesResponse describes the snapshot's files.
type ListFilesResponse struct {
	Location string      `json:"location"`
	Digest   string      `json:"digest"`
	Files    []FileEntry `json:"files"`
	Missing  []string    `json:"missing"`
	PageInfo
}

// ListFiles lists the stored snapshot files by name, followed by the
// optional files that are absent.
func (e *Engine) ListFiles(ctx context.Context, opts ListFilesOptions) (*ListFilesResponse, error) {
	return withObserve(e, ctx, OpListFiles, func(ctx context.Context) (*ListFilesResponse, error) {
		page, err := e.normalizePage(opts.Page)
		if err != nil {
			return nil, err
		}
		w := newWindow[FileEntry](page)
		for _, entry := range e.snap.Entries() {
			w.add(FileEntry{Name: entry.Name, Stored: entry.Stored, Size: entry.Size, Present: true})
		}
		missing := e.snap.Missing()
		for _, name := range missing {
			w.add(FileEntry{Name: name})
		}
		if missing == nil {
			missing = []string{}
		}
		return &ListFilesResponse{
			Location: e.snap.Location(),
			Digest:   e.snap.Digest(),
			Files:    w.items,
			Missing:  missing,
			PageInfo: w.info(false),
		}, nil
	})
}
