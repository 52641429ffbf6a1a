package runner

import (
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/kancut/pkg/version"
)

const banner = `
   __                              __ 
  / /__ ___ _  ___  ____ __ __ / /_
 /  '_// _ '/ / _ \/ __// // // __/
/_/\_\ \_,_/ /_//_/\__/ \_,_/ \__/ 
`

// showBanner is used to show the banner to the user
func showBanner() {
	gologger.Print().Msgf("%s  %s\n", banner, version.GetVersion())
	gologger.Print().Msgf("\t\tuse only on networks you are authorised to test\n\n")
}
