/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/facebook/ntpsync/internal/hostclock"
	"github.com/facebook/ntpsync/internal/sample"
	"github.com/facebook/ntpsync/internal/transport"
	"github.com/facebook/ntpsync/protocol"
)

var (
	diagServerFlag  string
	diagTimeoutFlag time.Duration
)

var okString = color.GreenString("[ OK ]")
var warnString = color.YellowString("[WARN]")
var failString = color.RedString("[FAIL]")

func init() {
	RootCmd.AddCommand(diagCmd)
	diagCmd.Flags().StringVarP(&diagServerFlag, "server", "s", "pool.ntp.org", "NTP server to query")
	diagCmd.Flags().DurationVarP(&diagTimeoutFlag, "timeout", "t", 500*time.Millisecond, "receive timeout")
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Exchange one NTP packet with a server and report offset and delay.",
	Run: func(cmd *cobra.Command, args []string) {
		channel, err := transport.Open(diagServerFlag, 123, diagTimeoutFlag)
		if err != nil {
			log.Fatalf("opening udp channel: %v", err)
		}
		defer channel.Close()

		anchor := hostclock.SampleWall()
		toUnix := func(mono int64) float64 {
			return float64(anchor.Wall.UnixNano())/1e9 + float64(mono-anchor.MonoAfter)/1e9
		}

		req := protocol.NewClientPacket(0)
		sendBegin := hostclock.Mono()
		req.TransmitTime = protocol.SecondsToNTP(toUnix(sendBegin))
		buf, err := req.Encode()
		if err != nil {
			log.Fatalf("encoding request: %v", err)
		}
		if err := channel.Send(buf); err != nil {
			fmt.Printf("%s send failed: %v\n", failString, err)
			return
		}

		respBuf := make([]byte, protocol.PacketSizeBytes)
		if err := channel.Receive(respBuf); err != nil {
			fmt.Printf("%s receive failed: %v\n", failString, err)
			return
		}
		recvEnd := hostclock.Mono()

		resp, err := protocol.Decode(respBuf)
		if err != nil {
			fmt.Printf("%s decoding response: %v\n", failString, err)
			return
		}
		fmt.Println(resp.String())

		t1 := protocol.NTPToSeconds(req.TransmitTime)
		t2 := protocol.NTPToSeconds(resp.ReceiveTime)
		t3 := protocol.NTPToSeconds(resp.TransmitTime)
		t4 := toUnix(recvEnd)
		offset, delay, dispersion := sample.Compute(t1, t2, t3, t4, resp.Precision)

		status := okString
		if resp.Stratum == 0 {
			status = failString
		} else if resp.LI == protocol.LeapNotSynced {
			status = warnString
		}
		fmt.Printf("%s offset=%v delay=%v dispersion=%v stratum=%d refid=%s\n",
			status,
			time.Duration(offset*float64(time.Second)),
			time.Duration(delay*float64(time.Second)),
			time.Duration(dispersion*float64(time.Second)),
			resp.Stratum, resp.RefIDString())
	},
}
