package telegram

// UI texts in English
const (
	startText = "👋 I remind you to solve one LeetCode problem every day.\n\n" +
		"1. Link your handle: /setusername your_handle\n" +
		"2. Pick reminder times: /setremind 08:00,20:00\n" +
		"3. Set your timezone: /timezone Asia/Tashkent\n\n" +
		"I check your submissions before nudging — solve one and I stay quiet. " +
		"See /help for everything I can do."

	helpText = "Commands:\n" +
		"/setusername <handle> — link your LeetCode account\n" +
		"/username — show the linked handle\n" +
		"/timezone [Area/City] — show or set your timezone\n" +
		"/setremind HH:MM,HH:MM — replace reminder times\n" +
		"/addremind HH:MM — add a reminder time\n" +
		"/delremind HH:MM — remove a reminder time\n" +
		"/listremind — list reminder times\n" +
		"/check — check today's progress right now\n" +
		"/status — show your settings\n" +
		"/stop — pause all reminders (/start resumes)"

	stopText = "Reminders paused. Send /start when you want them back."

	statusFmt = "🧾 Your settings:\n" +
		"• LeetCode: %s\n" +
		"• Timezone: %s\n" +
		"• Reminders: %s\n" +
		"• State: %s\n" +
		"• Today: %s"

	handleNotFoundFmt  = "🚫 LeetCode user %q was not found. Check the spelling and update it with /setusername your_handle."
	invalidTimesText   = "Invalid time list. Use 24h HH:MM, e.g. /setremind 08:00,20:00"
	saveErrorText      = "Storage error, please try again later."
	unknownCommandText = "Unknown command. See /help."
)
