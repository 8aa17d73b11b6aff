package commands

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"athena/core"
	"athena/models"
	"athena/services"
)

const (
	defaultMMI = 3
	maxMMI     = 8

	lightGrey = 0x979C9F
)

// mmiColours maps MMI 1..8 to embed colours
var mmiColours = []int{
	1: 0xFFFFEE,
	2: 0xFFECD2,
	3: 0xFFCFB6,
	4: 0xFFB39B,
	5: 0xFF9781,
	6: 0xF47C68,
	7: 0xD5624F,
	8: 0x992D22,
}

// Quake shows the most recent GeoNet quake at or above the requested intensity
func (c *CommandsUseCase) Quake(
	ctx context.Context,
	event *models.InteractionEvent,
	_ services.ScopedStore,
) (*models.Response, error) {
	mmi := int64(defaultMMI)
	if value, ok := event.IntArg("minimum_mmi"); ok {
		mmi = value
	}
	if mmi < 0 || mmi > maxMMI {
		return nil, core.NewUserError("Minimum intensity must be between 0 and %d", maxMMI)
	}

	maybeQuake, err := c.quakeClient.LatestQuake(ctx, int(mmi))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quakes: %w", err)
	}
	quake, ok := maybeQuake.Get()
	if !ok {
		return nil, core.NewUserError("No quakes found with the required intensity")
	}

	return models.EmbedResponse(quakeEmbed(quake, int(mmi))), nil
}

func quakeEmbed(quake *models.Quake, mmi int) *discordgo.MessageEmbed {
	description := fmt.Sprintf("Most recent quake with MMI >= %d", mmi)
	if mmi >= maxMMI {
		description = "Well, fuck. " + description
	}

	return &discordgo.MessageEmbed{
		URL:         "https://www.geonet.org.nz/earthquake/" + quake.PublicID,
		Title:       "Quake ID " + quake.PublicID,
		Description: description,
		Color:       mmiColour(mmi),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Magnitude", Value: fmt.Sprintf("%.3f", quake.Magnitude), Inline: true},
			{Name: "MMI", Value: fmt.Sprintf("%d", quake.MMI), Inline: true},
			{Name: "Depth", Value: fmt.Sprintf("%.3f km", quake.Depth), Inline: true},
			{Name: "Time", Value: fmt.Sprintf("<t:%d:R>", quake.Time.Unix()), Inline: true},
			{Name: "Quality", Value: quake.Quality, Inline: true},
			{Name: "Location", Value: quake.Locality, Inline: true},
		},
	}
}

// mmiColour colours the embed by the requested intensity
func mmiColour(mmi int) int {
	switch {
	case mmi <= 0:
		return lightGrey
	case mmi >= maxMMI:
		return mmiColours[maxMMI]
	default:
		return mmiColours[mmi]
	}
}
