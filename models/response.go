package models

import "github.com/bwmarrin/discordgo"

// Response is what a command handler produces for the invoking user.
type Response struct {
	Content   string
	Embeds    []*discordgo.MessageEmbed
	Ephemeral bool
}

func TextResponse(content string) *Response {
	return &Response{Content: content}
}

func EmbedResponse(embed *discordgo.MessageEmbed) *Response {
	return &Response{Embeds: []*discordgo.MessageEmbed{embed}}
}

// ErrorColour is the embed colour used for failures shown to users
const ErrorColour = 0xE74C3C

// ErrorResponse renders a failure as a red "Error" embed.
func ErrorResponse(description string) *Response {
	return &Response{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title:       "Error",
				Description: description,
				Color:       ErrorColour,
			},
		},
		Ephemeral: true,
	}
}
