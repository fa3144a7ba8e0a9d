// Copyright © 2017 Microsoft <wastore@microsoft.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chunkrelay/streamcore/common"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the persisted session credential, forcing re-authentication next run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLogout()
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout() error {
	common.InitializeFolders()
	common.ClearEnvironmentVariable(common.EEnvironmentVariable.BotToken())

	if err := os.Remove(common.CredentialFilePath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove persisted credential: %w", err)
	}

	fmt.Println("Logout succeeded.")
	return nil
}
