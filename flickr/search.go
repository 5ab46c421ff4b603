package flickr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	cst "wuyrush.io/vtourist/constants"
	se "wuyrush.io/vtourist/errors"
)

var validate = validator.New()

// SearchResult is the typed shape of a flickr.photos.search response.
type SearchResult struct {
	Photos *SearchPage `json:"photos"`
}

type SearchPage struct {
	Page    FlexInt `json:"page"`
	Pages   FlexInt `json:"pages"`
	PerPage FlexInt `json:"perpage"`
	Total   FlexInt `json:"total"`
	// entries are decoded one by one with DecodePhoto so that one malformed entry does not fail the page
	Photo []json.RawMessage `json:"photo"`
}

// RawPhoto is a single search result entry.
type RawPhoto struct {
	ID string `json:"id" validate:"required,numeric"`
	// titles may legitimately be empty, but must be present
	Title *string `json:"title" validate:"required"`
	URLM  string  `json:"url_m" validate:"required,url"`
}

// FlexInt decodes json numbers which flickr sometimes sends as strings.
type FlexInt int

func (i *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*i = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return err
	}
	*i = FlexInt(n)
	return nil
}

// SearchParams builds the parameters of a photo search within bbox. Page 0 asks for the first page with
// the page size pinned, which is how we learn the page count.
func SearchParams(bbox string, page int) Params {
	p := Params{
		"bbox":           bbox,
		"safe_search":    "1",
		"extras":         "url_m",
		"format":         "json",
		"nojsoncallback": "1",
	}
	if page > 0 {
		p["page"] = strconv.Itoa(page)
	} else {
		p["per_page"] = strconv.Itoa(cst.FlickrPhotosPerPage)
	}
	return p
}

// SearchPhotos searches photos within the bounding box bbox, formatted "minLon,minLat,maxLon,maxLat".
func (c *Client) SearchPhotos(ctx context.Context, bbox string, page int) (*SearchPage, *se.Err) {
	var res SearchResult
	if err := c.Call(ctx, cst.FlickrMethodPhotosSearch, SearchParams(bbox, page), &res); err != nil {
		return nil, err
	}
	if res.Photos == nil {
		return nil, se.NewParse("search response has no photos object")
	}
	return res.Photos, nil
}

// DecodePhoto decodes and validates a single search result entry.
func DecodePhoto(raw json.RawMessage) (*RawPhoto, *se.Err) {
	var p RawPhoto
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, se.NewValidation("malformed photo entry").WithCause(err)
	}
	if err := validate.Struct(&p); err != nil {
		return nil, se.NewValidation(fmt.Sprintf("invalid photo entry %s", p.ID)).WithCause(err)
	}
	return &p, nil
}
