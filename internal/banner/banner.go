package banner

import (
	"steadybench/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
   _____ __                 __      ____                  __  
  / ___// /____  ____ _____/ /_  __/ __ )___  ____  _____/ /_ 
  \__ \/ __/ _ \/ __ '/ __  / / / / __  / _ \/ __ \/ ___/ __ \
 ___/ / /_/  __/ /_/ / /_/ / /_/ / /_/ /  __/ / / / /__/ / / /
/____/\__/\___/\__,_/\__,_/\__, /_____/\___/_/ /_/\___/_/ /_/ 
                          /____/                              `

	return "\n" + style.Render(ascii) + "\n"
}
