package web

import (
	"context"
	"time"

	"confsched/internal/live"
	"confsched/internal/model"
)

type eventDTO struct {
	ID          int64           `json:"id"`
	Day         int             `json:"day"`
	Date        string          `json:"date"`
	Start       *time.Time      `json:"start,omitempty"`
	End         *time.Time      `json:"end,omitempty"`
	Room        string          `json:"room"`
	Slug        string          `json:"slug,omitempty"`
	URL         string          `json:"url,omitempty"`
	Title       string          `json:"title"`
	Subtitle    string          `json:"subtitle,omitempty"`
	Track       string          `json:"track"`
	TrackType   model.TrackType `json:"track_type"`
	Abstract    string          `json:"abstract,omitempty"`
	Description string          `json:"description,omitempty"`
	Persons     string          `json:"persons,omitempty"`
	Bookmarked  *bool           `json:"bookmarked,omitempty"`
}

func toEventDTO(ev model.Event) eventDTO {
	return eventDTO{
		ID:          ev.ID,
		Day:         ev.Day.Index,
		Date:        ev.Day.Date.Format(time.DateOnly),
		Start:       ev.Start,
		End:         ev.End,
		Room:        ev.RoomName,
		Slug:        ev.Slug,
		URL:         ev.URL,
		Title:       ev.Title,
		Subtitle:    ev.Subtitle,
		Track:       ev.Track.Name,
		TrackType:   ev.Track.Type,
		Abstract:    ev.AbstractText,
		Description: ev.Description,
		Persons:     ev.PersonsSummary,
	}
}

func toStatusEventDTO(se model.StatusEvent) eventDTO {
	dto := toEventDTO(se.Event)
	b := se.IsBookmarked
	dto.Bookmarked = &b
	return dto
}

type personDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func toPersonDTO(p model.Person) personDTO {
	return personDTO{ID: p.ID, Name: p.Name}
}

type linkDTO struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type eventDetailDTO struct {
	eventDTO
	Speakers []personDTO `json:"speakers"`
	Links    []linkDTO   `json:"links"`
}

type trackDTO struct {
	Name string          `json:"name"`
	Type model.TrackType `json:"type"`
}

type dayDTO struct {
	Index int    `json:"index"`
	Date  string `json:"date"`
}

// pageResponse is one page of a paginated list.
type pageResponse[D any] struct {
	At       time.Time `json:"at"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Pages    int       `json:"pages"`
	Total    int       `json:"total"`
	Items    []D       `json:"items"`
}

func pageOf[T, D any](ctx context.Context, p *live.Pager[T], page int, conv func(T) D) (pageResponse[D], error) {
	total, err := p.Count(ctx)
	if err != nil {
		return pageResponse[D]{}, err
	}
	rows, err := p.Page(ctx, page)
	if err != nil {
		return pageResponse[D]{}, err
	}
	pages, _ := p.Pages(ctx)

	items := make([]D, 0, len(rows))
	for _, r := range rows {
		items = append(items, conv(r))
	}
	return pageResponse[D]{
		At:       p.At(),
		Page:     page,
		PageSize: p.PageSize(),
		Pages:    pages,
		Total:    total,
		Items:    items,
	}, nil
}
