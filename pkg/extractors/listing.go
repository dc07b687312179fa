package extractors

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"course-portal-go/pkg/interfaces"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/types"
)

// iconLabels maps the alt text of a listing item's icon to its kind.
var iconLabels = map[string]types.ContentKind{
	"作业":    types.KindAssignment,
	"内容文件夹": types.KindFolder,
	"文件夹":   types.KindFolder,
	"目录":    types.KindFolder,
	"项目":    types.KindDocument,
	"文件":    types.KindDocument,
}

var skippedImageExts = map[string]bool{"gif": true, "svg": true, "ico": true}

// ListingExtractor parses content listing pages ("#content_listContainer").
type ListingExtractor struct {
	log *logging.Logger
}

// NewListingExtractor creates a listing extractor.
func NewListingExtractor(log *logging.Logger) *ListingExtractor {
	return &ListingExtractor{log: log.WithComponent("listing-extractor")}
}

// Extract returns one record per parsable list item, in page order. Every
// record inherits parent, depth and section from the probe that listed it.
func (e *ListingExtractor) Extract(page []byte, parent types.Probe) ([]*types.ContentRecord, error) {
	doc, err := parseDocument(page)
	if err != nil {
		return nil, err
	}

	var records []*types.ContentRecord
	doc.Find("#content_listContainer > li").Each(func(i int, li *goquery.Selection) {
		rec, err := e.parseItem(li, parent)
		if err != nil {
			e.log.WithProbe(parent).Warn("skipping list item", "index", i, "error", err)
			return
		}
		records = append(records, rec)
	})
	return records, nil
}

func (e *ListingExtractor) parseItem(li *goquery.Selection, parent types.Probe) (*types.ContentRecord, error) {
	children := li.Children()
	if children.Length() < 3 {
		return nil, fmt.Errorf("%w: expected 3 child elements, got %d", types.ErrElementParse, children.Length())
	}
	icon, titleDiv, detailDiv := children.Eq(0), children.Eq(1), children.Eq(2)

	kind := types.KindUnknown
	alt, ok := icon.Attr("alt")
	switch k, known := iconLabels[alt]; {
	case !ok:
		e.log.Warn("content icon has no alt text, kind unknown")
	case known:
		kind = k
	default:
		e.log.Warn("unknown content kind", "alt", alt)
	}

	id, ok := titleDiv.Attr("id")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: content id not found", types.ErrElementParse)
	}

	rec := &types.ContentRecord{
		ID:          id,
		Title:       strings.TrimSpace(titleDiv.Text()),
		Kind:        kind,
		HasLink:     titleDiv.Find("a").Length() > 0,
		IsFolder:    kind == types.KindFolder,
		ParentID:    parent.ParentID,
		ParentTitle: parent.ParentTitle,
		Depth:       parent.Depth,
		SectionName: parent.SectionName,
	}

	detailDiv.Find("div.vtbegenerated > *").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(collectText(s)); text != "" {
			rec.Descriptions = append(rec.Descriptions, text)
		}
	})

	detailDiv.Find("ul.attachments > li > a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		rec.Attachments = append(rec.Attachments, types.Attachment{
			Name: strings.TrimSpace(a.Text()),
			URI:  href,
		})
	})

	detailDiv.Find("img").Each(func(idx int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || !strings.HasPrefix(src, "/bbcswebdav/") {
			return
		}
		if i := strings.LastIndex(src, "."); i >= 0 && skippedImageExts[strings.ToLower(src[i+1:])] {
			return
		}
		rec.Attachments = append(rec.Attachments, types.Attachment{
			Name: embeddedImageName(src, idx),
			URI:  src,
		})
	})

	return rec, nil
}

// embeddedImageName derives a file name from the last path segment of src.
func embeddedImageName(src string, idx int) string {
	p := src
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	name := p[strings.LastIndex(p, "/")+1:]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if name == "" {
		return fmt.Sprintf("embed_img_%d.bin", idx)
	}
	if !strings.Contains(name, ".") {
		name += ".bin"
	}
	return name
}

var _ interfaces.ContentExtractor = (*ListingExtractor)(nil)
