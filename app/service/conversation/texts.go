package conversation

import _ "embed"

//go:embed exercises.txt
var exercisesText string

// User-facing texts stay generic; diagnostic detail only ever goes to the
// operator channel.
const (
	welcomeTemplate = "Hi 👋 Welcome to Serena.\n\n" +
		"I'm here to listen, keep you company and help you reflect.\n" +
		"You have %d free turns. After that, you can pick a plan to keep talking.\n\n" +
		"📌 For help, type /help\n" +
		"🧘 For guided exercises, type /exercises"

	helpMessage = "📍 Available commands:\n" +
		"/start – Get started\n" +
		"/help – Show this help\n" +
		"/exercises – Guided exercises"

	upgradeMessage = "🚫 Your free access has ended.\n" +
		"Pick one of the plans to keep using the bot:"

	retryMessage = "Something went wrong on our side. Please try again in a moment."

	apologyMessage = "⚠️ Sorry, I couldn't process your message. Please try again."

	stillThereMessage = "Still there? 🙂 If you'd like, I can summarize what we've " +
		"talked about so far — or just keep typing whenever you're ready."
)
