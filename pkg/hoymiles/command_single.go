// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package hoymiles

const (
	requestFramePayloadSize  = 10
	channelChangePayloadSize = 14
)

// RequestFrameCommand asks the inverter to repeat one fragment of the
// answer to the command at the head of the queue.
type RequestFrameCommand struct {
	commandBase
}

func NewRequestFrameCommand(target, router Serial, frameNo uint8) *RequestFrameCommand {
	c := &RequestFrameCommand{newCommandBase("RequestFrame", cmdMultiData, target, router)}
	c.size = requestFramePayloadSize
	c.timeout = timeoutRequestFrame
	c.SetFrameNo(frameNo)
	return c
}

func (c *RequestFrameCommand) SetFrameNo(frameNo uint8) {
	if frameNo > fragmentIDMask {
		frameNo = 0
	}
	c.payload[9] = frameNo | lastFragmentFlag
}

func (c *RequestFrameCommand) FrameNo() uint8 {
	return c.payload[9] & fragmentIDMask
}

// ChannelChangeCommand tells a CMT inverter listening on the boot
// frequency to move to the channel in byte 12.
type ChannelChangeCommand struct {
	commandBase
	country CountryMode
}

func NewChannelChangeCommand(target, router Serial, channel uint8) *ChannelChangeCommand {
	c := &ChannelChangeCommand{commandBase: newCommandBase("ChannelChange", cmdChannelChange, target, router)}
	c.payload[13] = 0x14
	c.size = channelChangePayloadSize
	c.timeout = timeoutChannelChange
	c.SetCountryMode(CountryEU)
	c.SetChannel(channel)
	return c
}

func (c *ChannelChangeCommand) SetCountryMode(m CountryMode) {
	c.country = m
	switch m {
	case CountryUS:
		c.payload[9], c.payload[10], c.payload[11] = 0x03, 0x17, 0x3C
	default:
		c.payload[9], c.payload[10], c.payload[11] = 0x02, 0x15, 0x21
	}
}

func (c *ChannelChangeCommand) CountryMode() CountryMode { return c.country }

func (c *ChannelChangeCommand) SetChannel(channel uint8) {
	c.payload[12] = channel
}

func (c *ChannelChangeCommand) Channel() uint8 { return c.payload[12] }

// MaxResendCount is zero; the inverter does not answer on the boot frequency.
func (c *ChannelChangeCommand) MaxResendCount() int { return 0 }

func (c *ChannelChangeCommand) QueueInsertType() QueueInsertType { return InsertReplaceExistent }
