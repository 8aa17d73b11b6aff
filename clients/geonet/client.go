package geonet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/mo"

	"athena/models"
)

const (
	DefaultBaseURL = "https://api.geonet.org.nz"
	acceptHeader   = "application/vnd.geo+json;version=2"
)

type quakeProperties struct {
	PublicID  string    `json:"publicID"`
	Time      time.Time `json:"time"`
	Depth     float64   `json:"depth"`
	Locality  string    `json:"locality"`
	Magnitude float64   `json:"magnitude"`
	MMI       int       `json:"mmi"`
	Quality   string    `json:"quality"`
}

type quakeFeature struct {
	Properties quakeProperties `json:"properties"`
}

type quakeList struct {
	Features []quakeFeature `json:"features"`
}

// GeoNetClient queries the GeoNet quake API
type GeoNetClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewGeoNetClient(httpClient *http.Client, baseURL string) *GeoNetClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GeoNetClient{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

// LatestQuake returns the most recent quake with intensity of at least minimumMMI
func (c *GeoNetClient) LatestQuake(ctx context.Context, minimumMMI int) (mo.Option[*models.Quake], error) {
	log.Debug().Int("minimum_mmi", minimumMMI).Msg("📋 Starting to fetch quakes from GeoNet")

	url := fmt.Sprintf("%s/quake?MMI=%d", c.baseURL, minimumMMI)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return mo.None[*models.Quake](), fmt.Errorf("failed to create quake request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return mo.None[*models.Quake](), fmt.Errorf("failed to execute quake request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return mo.None[*models.Quake](), fmt.Errorf("quake request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var list quakeList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return mo.None[*models.Quake](), fmt.Errorf("failed to decode quake response: %w", err)
	}
	if len(list.Features) == 0 {
		return mo.None[*models.Quake](), nil
	}

	sort.Slice(list.Features, func(i, j int) bool {
		return list.Features[i].Properties.Time.Before(list.Features[j].Properties.Time)
	})
	latest := list.Features[len(list.Features)-1].Properties

	log.Debug().Str("public_id", latest.PublicID).Int("quakes", len(list.Features)).Msg("📋 Completed successfully - fetched quakes")
	return mo.Some(&models.Quake{
		PublicID:  latest.PublicID,
		Time:      latest.Time,
		Depth:     latest.Depth,
		Magnitude: latest.Magnitude,
		MMI:       latest.MMI,
		Locality:  latest.Locality,
		Quality:   latest.Quality,
	}), nil
}
