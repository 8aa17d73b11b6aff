package commands

import (
	"github.com/bwmarrin/discordgo"
)

const manageGuild int64 = discordgo.PermissionManageGuild

// ApplicationCommands returns the slash command definitions published on startup
func ApplicationCommands() []*discordgo.ApplicationCommand {
	guildOnly := false
	manageGuildPermission := manageGuild
	minMMI := 0.0
	minDuration := 1.0

	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandRoll,
			Description: "Roll some dice",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "dice",
					Description: "Dice string, e.g. 4d6dl1 + 2",
					Required:    true,
					MaxLength:   200,
				},
			},
		},
		{
			Name:        CommandRolls,
			Description: "Show your recent rolls",
		},
		{
			Name:        CommandQuake,
			Description: "Displays the most recent quake",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "minimum_mmi",
					Description: "Minimum intensity: 0-8",
					MinValue:    &minMMI,
					MaxValue:    maxMMI,
				},
			},
		},
		{
			Name:        CommandRemindMe,
			Description: "Create a reminder about something",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "in",
					Description: "Remind me after some time",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionInteger,
							Name:        "duration",
							Description: "Time till reminder",
							Required:    true,
							MinValue:    &minDuration,
							MaxValue:    maxReminderDuration,
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "unit",
							Description: "Time units",
							Required:    true,
							Choices:     unitChoices(),
						},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "message",
							Description: "Reminder message",
							Required:    true,
							MaxLength:   maxReminderMessage,
						},
					},
				},
			},
		},
		{
			Name:         CommandTally,
			Description:  "Add one to this server's tally",
			DMPermission: &guildOnly,
		},
		{
			Name:                     CommandTallyReset,
			Description:              "Reset this server's tally",
			DMPermission:             &guildOnly,
			DefaultMemberPermissions: &manageGuildPermission,
		},
	}
}

func unitChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(timeUnits))
	for _, unit := range timeUnits {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: unit.name, Value: unit.name})
	}
	return choices
}
